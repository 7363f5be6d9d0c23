// Package fbengine orchestrates every fbinst command over the
// device/mbr/bpb/catalog/alloc/filedata/syslinux/menu/archive packages: it
// owns read_header/write_header sequencing and is the only layer that
// mutates more than one of those packages' state in a single operation.
package fbengine

import (
	"encoding/binary"

	"github.com/fbtool/fbinst/alloc"
	"github.com/fbtool/fbinst/archive"
	"github.com/fbtool/fbinst/catalog"
	"github.com/fbtool/fbinst/device"
	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/mbr"
)

// formatVerMajor/formatVerMinor are the fb format version this tool reads
// and writes, stamped into every fresh disk or archive by Format/
// CreateArchive and checked by Open against whatever's already on disk.
const (
	formatVerMajor byte = 1
	formatVerMinor byte = 0
)

// Layout is alloc's search-boundary triple, derived from a State by
// (*State).Layout for every command that allocates or inspects free space.
type Layout = alloc.Layout

// arMaxSize stands in for FB_AR_MAX_SIZE: an archive file has no fixed
// extended area, so its reported total size is unbounded. The original's
// own header defining this constant did not survive distillation; this is
// the natural reconstruction (the widest value a uint32 total-size field
// can hold) rather than a guessed finite figure.
const arMaxSize uint32 = 0xFFFFFFFF

// dataHeaderSize is the on-disk size of the fb_data/fb_ar_data header
// fields this package reads and writes; both share the same layout from
// offset 0, the archive header's shorter form simply stopping after
// ext_size.
const dataHeaderSize = 16

// dataHeader mirrors struct fb_data (disk mode) / struct fb_ar_data
// (archive mode): the fields immediately following the MBR ladder on a
// real disk, or immediately following the archive magic in an archive
// file.
type dataHeader struct {
	BootSize uint16 // disk mode only; zero in archive mode
	Flags    uint16 // disk mode only
	VerMajor byte
	VerMinor byte
	ListUsed uint16
	ListSize uint16
	PriSize  uint16
	ExtSize  uint32
}

func unmarshalDataHeader(buf []byte) dataHeader {
	return dataHeader{
		BootSize: binary.LittleEndian.Uint16(buf[0:]),
		Flags:    binary.LittleEndian.Uint16(buf[2:]),
		VerMajor: buf[4],
		VerMinor: buf[5],
		ListUsed: binary.LittleEndian.Uint16(buf[6:]),
		ListSize: binary.LittleEndian.Uint16(buf[8:]),
		PriSize:  binary.LittleEndian.Uint16(buf[0xa:]),
		ExtSize:  binary.LittleEndian.Uint32(buf[0xc:]),
	}
}

func (h dataHeader) marshalInto(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:], h.BootSize)
	binary.LittleEndian.PutUint16(buf[2:], h.Flags)
	buf[4] = h.VerMajor
	buf[5] = h.VerMinor
	binary.LittleEndian.PutUint16(buf[6:], h.ListUsed)
	binary.LittleEndian.PutUint16(buf[8:], h.ListSize)
	binary.LittleEndian.PutUint16(buf[0xa:], h.PriSize)
	binary.LittleEndian.PutUint32(buf[0xc:], h.ExtSize)
}

// State is an open fb device or archive file, with its header and catalog
// decoded into memory. Every fbengine operation reads one of these, mutates
// the in-memory catalog (and calls whatever device-writing helper it
// needs), then calls Save to flush the header and catalog back.
type State struct {
	Dev device.BlockDevice

	ArMode bool

	// BootBase is the index of the MBR ladder's last sector (disk mode
	// only). PartOfs is the data partition's own LBA, used by sync/add's
	// syslinux patching. BootSize is the boot code blob's length in
	// sectors; mbr0 is sector 0 as last read from disk, kept around for
	// Info's bpb-status/debug-version/zip inspection.
	BootBase uint16
	PartOfs  uint32
	BootSize uint16
	mbr0     mbr.Sector

	ListStart   uint32
	ListSectors uint16

	// PriSize/TotalSize are sector positions: PriSize is where the
	// extended area begins, TotalSize is one past its end.
	PriSize   uint32
	TotalSize uint32

	VerMajor byte
	VerMinor byte

	List *catalog.List

	// ArHeaderPriSize/ArHeaderExtSize are the archive header's own
	// pri_size/ext_size fields: informational metadata about the disk
	// shape this archive was captured from or intends to populate,
	// carried through unchanged by every command that isn't save/create
	// (which set them explicitly). Distinct from PriSize/TotalSize above,
	// which are this archive's own internal region boundary.
	ArHeaderPriSize uint16
	ArHeaderExtSize uint32

	// arSize is get_ar_size's result as of the last Open/Save, the
	// archive's true logical length in sectors; only meaningful in
	// archive mode.
	arSize uint32
}

// Layout returns the alloc.Layout this state's catalog search should use.
func (s *State) Layout() Layout {
	return Layout{
		ListEnd:   s.ListStart + uint32(s.ListSectors),
		PriSize:   s.PriSize,
		TotalSize: s.TotalSize,
	}
}

// Open reads a device's header and catalog into a new State, matching
// read_header. Sector 0 is checked against the fb MBR magic first; if that
// fails it's checked against the archive magic instead, matching the way a
// bare archive file has no MBR at all, just its own header occupying the
// same leading sector. allowArchive must be set for that fallback to
// succeed, the way every command but the ones that can sensibly run
// against either device type passes false.
func Open(dev device.BlockDevice, allowArchive bool) (*State, error) {
	var sector0 mbr.Sector
	if err := dev.Seek(0); err != nil {
		return nil, err
	}
	if err := dev.ReadSectors(sector0[:], 1); err != nil {
		return nil, err
	}

	if sector0.FbMagicField() == mbr.FbMagic && sector0.EndMagicField() == mbr.EndMagic {
		return openDisk(dev, sector0)
	}

	if binary.LittleEndian.Uint32(sector0[:4]) == archive.Magic {
		if !allowArchive {
			return nil, fberrors.InvalidMbr.WithMessage(
				"device holds an archive, not an fb-formatted disk")
		}
		return openArchive(dev, sector0[:])
	}

	return nil, fberrors.InvalidMbr.WithMessage("not an fb-formatted disk or archive")
}

func openDisk(dev device.BlockDevice, sector0 mbr.Sector) (*State, error) {
	bootBase := sector0.BootBase()
	partOfs := minPartitionStart(sector0)

	dataSector := make([]byte, 512)
	if err := dev.Seek(uint32(bootBase) + 1); err != nil {
		return nil, err
	}
	if err := dev.ReadSectors(dataSector, 1); err != nil {
		return nil, err
	}
	header := unmarshalDataHeader(dataSector)
	listStart := uint32(bootBase) + 1 + uint32(header.BootSize)

	listRaw := make([]byte, int(header.ListSize)*512)
	if err := dev.Seek(listStart); err != nil {
		return nil, err
	}
	if err := dev.ReadSectors(listRaw, int(header.ListSize)); err != nil {
		return nil, err
	}
	payload := catalog.RemoveMark(listRaw, int(header.ListSize))
	list := catalog.NewList(payload)

	if header.VerMajor != formatVerMajor {
		return nil, fberrors.VersionMismatch.WithMessage("unsupported fb format version")
	}

	priSize := uint32(header.PriSize)
	totalSize := priSize + header.ExtSize

	if tail := list.Tail(); uint32(tail) > uint32(header.ListSize)*510 {
		return nil, fberrors.InvalidMbr.WithMessage("catalog overruns its reserved sectors")
	}

	return &State{
		Dev:         dev,
		ArMode:      false,
		BootBase:    bootBase,
		PartOfs:     partOfs,
		BootSize:    header.BootSize,
		mbr0:        sector0,
		ListStart:   listStart,
		ListSectors: header.ListSize,
		PriSize:     priSize,
		TotalSize:   totalSize,
		VerMajor:    header.VerMajor,
		VerMinor:    header.VerMinor,
		List:        list,
	}, nil
}

func openArchive(dev device.BlockDevice, headerSector []byte) (*State, error) {
	header := unmarshalDataHeader(headerSector)
	if header.VerMajor != formatVerMajor {
		return nil, fberrors.VersionMismatch.WithMessage("unsupported fb archive version")
	}

	listStart := uint32(1)
	listRaw := make([]byte, int(header.ListSize)*512)
	if err := dev.Seek(listStart); err != nil {
		return nil, err
	}
	if err := dev.ReadSectors(listRaw, int(header.ListSize)); err != nil {
		return nil, err
	}
	payload := catalog.RemoveMark(listRaw, int(header.ListSize))
	list := catalog.NewList(payload)

	priSize := listStart + uint32(header.ListSize)

	if tail := list.Tail(); uint32(tail) > uint32(header.ListSize)*510 {
		return nil, fberrors.InvalidMbr.WithMessage("catalog overruns its reserved sectors")
	}

	s := &State{
		Dev:             dev,
		ArMode:          true,
		ListStart:       listStart,
		ListSectors:     header.ListSize,
		PriSize:         priSize,
		TotalSize:       arMaxSize,
		VerMajor:        header.VerMajor,
		VerMinor:        header.VerMinor,
		List:            list,
		ArHeaderPriSize: header.PriSize,
		ArHeaderExtSize: header.ExtSize,
	}
	s.arSize = s.computeArSize()
	return s, nil
}

// minPartitionStart scans all four partition table entries for the
// smallest nonzero start LBA among populated entries, matching
// get_part_ofs. It returns 0xffffffff if no entry is populated.
func minPartitionStart(sector mbr.Sector) uint32 {
	min := uint32(0xffffffff)
	for i := 0; i < 4; i++ {
		p := sector.PartitionEntryAt(i)
		if p.Type == 0 {
			continue
		}
		if p.StartLBA < min {
			min = p.StartLBA
		}
	}
	return min
}

// computeArSize matches get_ar_size: the sector position just past the last
// catalog record's data, or just past the catalog itself if it holds no
// records.
func (s *State) computeArSize() uint32 {
	records := s.List.Records()
	if len(records) == 0 {
		return s.ListStart + uint32(s.ListSectors)
	}
	last := records[len(records)-1]
	size := last.DataStart
	for _, r := range records {
		unit := uint32(510)
		if r.DataStart >= s.PriSize {
			unit = 512
		}
		end := r.DataStart + ceilDivU32(r.DataSize, unit)
		if end > size {
			size = end
		}
	}
	return size
}

func ceilDivU32(a, b uint32) uint32 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Save flushes the in-memory catalog back to disk, matching write_header:
// it recomputes list_used from the catalog's current tail, rewrites the
// boot-data sector's header fields (disk mode) or the archive header
// (archive mode), writes the catalog sectors, and — in archive mode, if the
// backend supports it — truncates the file once its true size has shrunk.
func (s *State) Save() error {
	var oldArSize uint32
	if s.ArMode {
		oldArSize = s.arSize
		s.arSize = s.computeArSize()
	}

	tail := s.List.Tail()
	listUsed := uint16(tail/510) + 1

	watermarked := catalog.AddMark(s.List.Bytes(), int(s.ListSectors), s.ListStart)

	if s.ArMode {
		// fb_ar_data: ar_magic(4)@0, then the same ver_major.. layout as
		// fb_data from offset 4 onward (dataHeader.marshalInto's BootSize/
		// Flags fields land on top of the magic and are never read back as
		// such in archive mode).
		header := dataHeader{
			VerMajor: s.VerMajor,
			VerMinor: s.VerMinor,
			ListUsed: listUsed,
			ListSize: s.ListSectors,
			PriSize:  s.ArHeaderPriSize,
			ExtSize:  s.ArHeaderExtSize,
		}
		var sector [512]byte
		header.marshalInto(sector[:])
		binary.LittleEndian.PutUint32(sector[0:], archive.Magic)
		if err := s.Dev.Seek(0); err != nil {
			return err
		}
		if err := s.Dev.WriteSectors(sector[:], 1); err != nil {
			return err
		}
	} else {
		dataSector := make([]byte, 512)
		if err := s.Dev.Seek(uint32(s.BootBase) + 1); err != nil {
			return err
		}
		if err := s.Dev.ReadSectors(dataSector, 1); err != nil {
			return err
		}
		header := unmarshalDataHeader(dataSector)
		header.ListUsed = listUsed
		header.marshalInto(dataSector)
		if err := s.Dev.Seek(uint32(s.BootBase) + 1); err != nil {
			return err
		}
		if err := s.Dev.WriteSectors(dataSector, 1); err != nil {
			return err
		}
	}

	if err := s.Dev.Seek(s.ListStart); err != nil {
		return err
	}
	if err := s.Dev.WriteSectors(watermarked, int(s.ListSectors)); err != nil {
		return err
	}

	if s.ArMode && s.arSize < oldArSize {
		if t, ok := s.Dev.(device.Truncatable); ok {
			if err := t.Truncate(s.arSize); err != nil {
				return err
			}
		}
	}

	return nil
}
