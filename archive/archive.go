// Package archive reads and writes the fb archive file format: a
// self-contained snapshot of a device's catalog and file payloads that
// save/load/create move data in and out of, independent of any physical
// disk. An archive is a flat file: one header sector, a watermarked
// catalog of list_size sectors, then every file's payload back to back,
// each padded up to the next 512-byte boundary.
package archive

import (
	"encoding/binary"
	"io"

	"github.com/fbtool/fbinst/catalog"
	"github.com/fbtool/fbinst/device"
	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/filedata"
)

// Magic identifies an fb archive file, distinct from the on-disk fb_magic
// stamped into an MBR ladder.
const Magic uint32 = 0xfb410001

// FormatVerMajor/FormatVerMinor are the archive header's own version
// fields, checked against the tool's compiled-in version the way
// get_ar_header compares ver_major/ver_minor against fb_mbr_data.
const (
	FormatVerMajor byte = 1
	FormatVerMinor byte = 0
)

const headerSectors = 1

// Header is the archive's sector-0 descriptor.
type Header struct {
	VerMajor byte
	VerMinor byte
	ListUsed uint16 // catalog sectors actually in use
	ListSize uint16 // catalog sectors reserved
	PriSize  uint16 // source disk's primary area size, informational
	ExtSize  uint32 // source disk's extended area size, informational
}

// marshal encodes h into a 512-byte header sector.
func (h Header) marshal() []byte {
	sector := make([]byte, 512)
	binary.LittleEndian.PutUint32(sector[0:], Magic)
	sector[4] = h.VerMajor
	sector[5] = h.VerMinor
	binary.LittleEndian.PutUint16(sector[6:], h.ListUsed)
	binary.LittleEndian.PutUint16(sector[8:], h.ListSize)
	binary.LittleEndian.PutUint16(sector[0xa:], h.PriSize)
	binary.LittleEndian.PutUint32(sector[0xc:], h.ExtSize)
	return sector
}

// unmarshalHeader decodes a header sector, rejecting anything without the
// archive magic.
func unmarshalHeader(sector []byte) (Header, error) {
	if len(sector) < 16 {
		return Header{}, fberrors.InvalidArchive.WithMessage("archive header truncated")
	}
	if binary.LittleEndian.Uint32(sector[0:]) != Magic {
		return Header{}, fberrors.InvalidArchive.WithMessage("not a valid fb archive")
	}
	return Header{
		VerMajor: sector[4],
		VerMinor: sector[5],
		ListUsed: binary.LittleEndian.Uint16(sector[6:]),
		ListSize: binary.LittleEndian.Uint16(sector[8:]),
		PriSize:  binary.LittleEndian.Uint16(sector[0xa:]),
		ExtSize:  binary.LittleEndian.Uint32(sector[0xc:]),
	}, nil
}

func ceilDiv(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// Create builds the contents of a fresh, empty archive file: one header
// sector followed by listSectors worth of blank, watermarked catalog,
// matching create_archive's on-disk layout. priSize/extSize record what
// region sizes a disk populated from this archive should use.
func Create(priSize uint16, extSize uint32, listSectors uint16) []byte {
	h := Header{
		VerMajor: FormatVerMajor,
		VerMinor: FormatVerMinor,
		ListUsed: 1,
		ListSize: listSectors,
		PriSize:  priSize,
		ExtSize:  extSize,
	}
	out := make([]byte, 0, int(headerSectors+listSectors)*512)
	out = append(out, h.marshal()...)
	empty := catalog.Empty(int(listSectors) * 510)
	out = append(out, catalog.AddMark(empty.Bytes(), int(listSectors), 1)...)
	return out
}

// Save snapshots dev's catalog and file payloads into an archive written
// to w, matching save_archive: list_size (bytes, rounded up to a 510-byte
// sector) bounds how large the rewritten catalog may be, and every
// record's data_start is renumbered to its sequential position within the
// archive file.
func Save(dev device.BlockDevice, priSize uint32, extSize uint32, records []catalog.Record, listSizeBytes uint32, w io.Writer) error {
	listSectors := ceilDiv(listSizeBytes, 510)
	listSize := listSectors * 510

	list := catalog.Empty(int(listSize))
	start := headerSectors + listSectors
	ofs := 0
	for _, rec := range records {
		out := rec
		out.DataStart = start
		if err := list.InsertAt(ofs, out); err != nil {
			return fberrors.NoSpace.WithMessage("not enough space for file list")
		}
		ofs = list.Tail()
		start += ceilDiv(out.DataSize, 512)
	}

	header := Header{
		VerMajor: FormatVerMajor,
		VerMinor: FormatVerMinor,
		ListUsed: uint16(ofs/510) + 1,
		ListSize: uint16(listSectors),
		PriSize:  uint16(priSize),
		ExtSize:  extSize,
	}

	if _, err := w.Write(header.marshal()); err != nil {
		return fberrors.IoError.WrapError(err)
	}
	if _, err := w.Write(catalog.AddMark(list.Bytes(), int(listSectors), 1)); err != nil {
		return fberrors.IoError.WrapError(err)
	}

	for _, rec := range records {
		if err := filedata.Load(dev, priSize, rec.DataStart, rec.DataSize, w); err != nil {
			return err
		}
		if pad := padding(rec.DataSize); pad > 0 {
			if _, err := w.Write(make([]byte, pad)); err != nil {
				return fberrors.IoError.WrapError(err)
			}
		}
	}
	return nil
}

func padding(size uint32) int {
	if rem := size % 512; rem != 0 {
		return int(512 - rem)
	}
	return 0
}

// Open reads an archive's header and catalog from r, validating the magic
// and format version, matching get_ar_header.
func Open(r io.ReaderAt) (Header, []catalog.Record, error) {
	headerBuf := make([]byte, 512)
	if _, err := r.ReadAt(headerBuf, 0); err != nil {
		return Header{}, nil, fberrors.IoError.WrapError(err)
	}
	header, err := unmarshalHeader(headerBuf)
	if err != nil {
		return Header{}, nil, err
	}
	if header.VerMajor != FormatVerMajor || header.VerMinor != FormatVerMinor {
		return Header{}, nil, fberrors.VersionMismatch.WithMessage("archive format version does not match")
	}

	raw := make([]byte, int(header.ListSize)*512)
	if _, err := r.ReadAt(raw, 512); err != nil {
		return Header{}, nil, fberrors.IoError.WrapError(err)
	}
	payload := catalog.RemoveMark(raw, int(header.ListSize))
	records := catalog.NewList(payload).Records()
	return header, records, nil
}

// Allocator places an incoming archived file onto the destination device,
// returning the sector it was written at. Import calls it once per record,
// in archive order, the way load_archive calls alloc_file.
type Allocator func(rec catalog.Record) (start uint32, err error)

// Import copies every record's payload out of an open archive (r) onto
// dev via allocate, returning the records as placed on dev (DataStart
// rewritten, flags preserved). Records flagged IsSyslinux still need
// ldlinux.bin repatching by the caller, since that requires reading the
// freshly written image back and knowing the partition's own geometry —
// archive has neither.
func Import(r io.ReaderAt, dev device.BlockDevice, priSize uint32, records []catalog.Record, allocate Allocator) ([]catalog.Record, error) {
	placed := make([]catalog.Record, 0, len(records))
	for _, rec := range records {
		start, err := allocate(rec)
		if err != nil {
			return nil, err
		}
		src := io.NewSectionReader(r, int64(rec.DataStart)*512, int64(rec.DataSize))
		if err := filedata.Save(dev, priSize, start, rec.DataSize, src); err != nil {
			return nil, err
		}
		out := rec
		out.DataStart = start
		placed = append(placed, out)
	}
	return placed, nil
}
