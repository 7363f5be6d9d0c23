// Package catalog implements the fb file catalog: an ordered list of
// variable-length records packed into the reserved catalog sectors,
// terminated by a zero size byte, plus the per-sector watermark transform
// that lets those sectors double as ordinary primary-area sectors.
package catalog

import (
	"encoding/binary"
	"fmt"
	"strings"

	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/hashicorp/go-multierror"
)

// Flag bits on a Record.
const (
	FlagExtended = 1 << 0
	FlagSyslinux = 1 << 1
)

// headerSize is the fixed portion of an on-disk record: size, flag,
// data_start, data_size, data_time. The name follows, NUL-terminated.
const headerSize = 1 + 1 + 4 + 4 + 4

// Record is one catalog entry: a file's name, its location in the primary
// or extended area, and its size and modification time.
type Record struct {
	Flag      byte
	DataStart uint32
	DataSize  uint32
	DataTime  uint32 // seconds since epoch, truncated to 32 bits like time_t
	Name      string
}

// IsExtended reports whether the record's data lives in the extended area.
func (r Record) IsExtended() bool {
	return r.Flag&FlagExtended != 0
}

// IsSyslinux reports whether add marked this file as a syslinux boot image
// requiring ldlinux.bin-style patching on write.
func (r Record) IsSyslinux() bool {
	return r.Flag&FlagSyslinux != 0
}

// encodedLen is the on-disk length of this record, fixed header plus name
// plus its NUL terminator — what the original calls `size + 2` including
// the leading size and flag bytes.
func (r Record) encodedLen() int {
	return headerSize + len(r.Name) + 1
}

// marshal returns this record's on-disk encoding as a new slice.
func (r Record) marshal() ([]byte, error) {
	total := r.encodedLen()
	if total > 255 {
		return nil, fberrors.InvalidArgument.WithMessage("file name too long for catalog entry")
	}
	buf := make([]byte, total)
	buf[0] = byte(total - 2)
	buf[1] = r.Flag
	binary.LittleEndian.PutUint32(buf[2:], r.DataStart)
	binary.LittleEndian.PutUint32(buf[6:], r.DataSize)
	binary.LittleEndian.PutUint32(buf[10:], r.DataTime)
	copy(buf[headerSize:], r.Name)
	buf[total-1] = 0
	return buf, nil
}

// unmarshalAt decodes one record starting at buf[ofs] and returns it along
// with its encoded length, or ok=false if buf[ofs] is the list terminator.
func unmarshalAt(buf []byte, ofs int) (rec Record, encodedLen int, ok bool) {
	if ofs >= len(buf) || buf[ofs] == 0 {
		return Record{}, 0, false
	}
	size := int(buf[ofs])
	encodedLen = size + 2
	nameStart := ofs + headerSize
	nameEnd := nameStart
	for nameEnd < ofs+encodedLen-1 && buf[nameEnd] != 0 {
		nameEnd++
	}
	rec = Record{
		Flag:      buf[ofs+1],
		DataStart: binary.LittleEndian.Uint32(buf[ofs+2:]),
		DataSize:  binary.LittleEndian.Uint32(buf[ofs+6:]),
		DataTime:  binary.LittleEndian.Uint32(buf[ofs+10:]),
		Name:      string(buf[nameStart:nameEnd]),
	}
	return rec, encodedLen, true
}

// List is the decoded, in-memory catalog: the concatenated 510-byte
// payloads of the catalog sectors, with the watermark already stripped.
// Records are kept in on-disk list order, which alloc.Find maintains
// as position order within the disk, not insertion order.
type List struct {
	buf []byte
}

// NewList decodes a catalog payload (already watermark-stripped) into a
// List. The backing buffer is copied.
func NewList(payload []byte) *List {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &List{buf: buf}
}

// Empty returns a List with capacity size and no records.
func Empty(size int) *List {
	return &List{buf: make([]byte, size)}
}

// Bytes returns the list's raw payload, sized to its backing capacity, for
// re-watermarking and writing back to disk.
func (l *List) Bytes() []byte {
	return l.buf
}

// Tail returns the offset of the list terminator, i.e. the number of bytes
// of payload actually in use.
func (l *List) Tail() int {
	ofs := 0
	for {
		_, n, ok := unmarshalAt(l.buf, ofs)
		if !ok {
			return ofs
		}
		ofs += n
	}
}

// Records returns every record in the list, in on-disk order.
func (l *List) Records() []Record {
	var out []Record
	ofs := 0
	for {
		rec, n, ok := unmarshalAt(l.buf, ofs)
		if !ok {
			break
		}
		out = append(out, rec)
		ofs += n
	}
	return out
}

// Entry pairs a decoded record with its byte offset in the list, the
// insertion point a new record would need in order to land immediately
// before it.
type Entry struct {
	Offset int
	Record Record
}

// Entries returns every record together with its on-disk offset, in
// on-disk order. The allocator walks this to find gaps between files.
func (l *List) Entries() []Entry {
	var out []Entry
	ofs := 0
	for {
		rec, n, ok := unmarshalAt(l.buf, ofs)
		if !ok {
			break
		}
		out = append(out, Entry{Offset: ofs, Record: rec})
		ofs += n
	}
	return out
}

// Find looks up a record by name, case-insensitively, matching find_file.
// The leading slash convention of the original CLI is normalized by the
// caller (fbengine), not here.
func (l *List) Find(name string) (Record, bool) {
	for _, rec := range l.Records() {
		if strings.EqualFold(rec.Name, name) {
			return rec, true
		}
	}
	return Record{}, false
}

// Delete removes the record named name, if any, compacting the list. It
// reports whether a record was removed.
func (l *List) Delete(name string) bool {
	ofs := 0
	for {
		rec, n, ok := unmarshalAt(l.buf, ofs)
		if !ok {
			return false
		}
		if strings.EqualFold(rec.Name, name) {
			tail := l.Tail()
			copy(l.buf[ofs:], l.buf[ofs+n:tail])
			for i := tail - n; i < tail; i++ {
				l.buf[i] = 0
			}
			return true
		}
		ofs += n
	}
}

// InsertAt inserts rec's encoding at byte offset ofs, shifting everything
// from ofs to the current tail forward to make room. ofs must be a record
// boundary (the offset find_space/alloc.Find returns). Any existing
// record of the same name is deleted first, matching alloc_file's
// del_file-then-insert behavior.
func (l *List) InsertAt(ofs int, rec Record) error {
	l.Delete(rec.Name)

	encoded, err := rec.marshal()
	if err != nil {
		return err
	}
	tail := l.Tail()
	if tail+len(encoded) >= len(l.buf) {
		return fberrors.NoSpace.WithMessage("catalog has no room for this entry")
	}
	if ofs < tail {
		copy(l.buf[ofs+len(encoded):tail+len(encoded)], l.buf[ofs:tail])
	}
	copy(l.buf[ofs:], encoded)
	return nil
}

// Validate checks every record for an empty name, a case-insensitive
// duplicate name and an encoded length over 255 bytes, and aggregates
// failures with
// hashicorp/go-multierror so `check` can report every problem at once
// instead of stopping at the first.
func (l *List) Validate() error {
	var result *multierror.Error
	seen := map[string]bool{}
	for i, rec := range l.Records() {
		if rec.Name == "" {
			result = multierror.Append(result, fmt.Errorf("record %d: empty name", i))
		}
		if seen[strings.ToLower(rec.Name)] {
			result = multierror.Append(result, fmt.Errorf("record %d: duplicate name %q", i, rec.Name))
		}
		seen[strings.ToLower(rec.Name)] = true
		if rec.encodedLen() > 255 {
			result = multierror.Append(result, fmt.Errorf("record %d: name %q too long", i, rec.Name))
		}
	}
	return result.ErrorOrNil()
}

// -----------------------------------------------------------------------------
// Watermark transform, shared with any other primary-area sector writer.

// AddMark re-injects the self-referential LBA watermark into sectors worth
// of payload: it shifts the concatenated payload so each 510-byte chunk
// lands at its own 512-byte sector boundary, then stamps the last two
// bytes of each sector with base+i, matching the original's add_mark.
func AddMark(payload []byte, sectors int, base uint32) []byte {
	out := make([]byte, sectors*512)
	for i := sectors - 1; i >= 0; i-- {
		srcStart := i * 510
		srcEnd := srcStart + 510
		if srcEnd > len(payload) {
			srcEnd = len(payload)
		}
		if srcStart > len(payload) {
			srcStart = len(payload)
		}
		dstStart := i * 512
		copy(out[dstStart:dstStart+510], payload[srcStart:srcEnd])
		binary.LittleEndian.PutUint16(out[dstStart+510:], uint16(base)+uint16(i))
	}
	return out
}

// RemoveMark strips the watermark from sectors worth of on-disk payload,
// concatenating the 510-byte chunks back into one logical byte stream,
// matching the original's remove_mark.
func RemoveMark(raw []byte, sectors int) []byte {
	out := make([]byte, sectors*510)
	for i := 0; i < sectors; i++ {
		copy(out[i*510:(i+1)*510], raw[i*512:i*512+510])
	}
	return out
}
