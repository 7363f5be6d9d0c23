package fbengine

import (
	"encoding/binary"

	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/mbr"
)

// BPBMode selects how Sync treats the BPB-shaped region embedded in the MBR
// boot code (offset 2 through the boot code's own jump-instruction target),
// matching sync_disk's --copy-bpb/--reset-bpb/--clear-bpb mutual exclusion.
type BPBMode int

const (
	// BPBUnchanged leaves the embedded BPB region untouched.
	BPBUnchanged BPBMode = iota
	// BPBClear zero-fills the embedded BPB region.
	BPBClear
	// BPBReset zero-fills the embedded BPB region, then stamps a minimal
	// synthetic BPB (2 FATs, 63 spt, 255 heads, drive 0x80) into it.
	BPBReset
	// BPBCopy copies the real data partition's own BPB fields into the
	// embedded region, adjusting reserved-sector count and total sectors
	// for the partition's offset from sector 0, and decrements the copied
	// reserved-sector count once per ladder step.
	BPBCopy
)

// SyncOptions mirrors sync_disk's flag set.
type SyncOptions struct {
	Mode       BPBMode
	// BPBSize truncates (zero-fills the tail of) the embedded BPB region to
	// this many bytes, when non-zero and smaller than the region's natural
	// length (--bpb-size).
	BPBSize int
	ZipDrive   bool
	MaxSectors byte
	CHS        bool
}

// Sync rewrites the fb MBR ladder's boot code BPB region and re-stamps
// max_sec/CHS/zip-drive fields, resyncing every ladder copy, matching
// sync_disk. s must already be open in disk mode.
func (s *State) Sync(opts SyncOptions) error {
	if s.ArMode {
		return fberrors.InvalidArgument.WithMessage("sync does not apply to archives")
	}
	if s.PartOfs == 0xffffffff {
		return fberrors.InvalidMbr.WithMessage("disk has no data partition to sync against")
	}

	if err := s.Dev.Seek(0); err != nil {
		return err
	}
	var sector0 mbr.Sector
	if err := s.Dev.ReadSectors(sector0[:], 1); err != nil {
		return err
	}

	if err := s.Dev.Seek(s.PartOfs); err != nil {
		return err
	}
	var partBoot [512]byte
	if err := s.Dev.ReadSectors(partBoot[:], 1); err != nil {
		return err
	}

	jmpOfs := int(sector0[1])
	isZip := opts.ZipDrive

	switch opts.Mode {
	case BPBCopy:
		copy(sector0[2:2+jmpOfs], partBoot[2:2+jmpOfs])
		nrs := binary.LittleEndian.Uint16(sector0[0x0e:])
		binary.LittleEndian.PutUint16(sector0[0x0e:], nrs+uint16(s.PartOfs))
		binary.LittleEndian.PutUint32(sector0[0x1c:], 0)

		ts := uint32(binary.LittleEndian.Uint16(partBoot[0x13:]))
		if ts == 0 {
			ts = binary.LittleEndian.Uint32(partBoot[0x20:])
		}
		ts += s.PartOfs
		binary.LittleEndian.PutUint16(sector0[0x13:], 0)
		binary.LittleEndian.PutUint32(sector0[0x20:], 0)
		if ts < 0x10000 {
			binary.LittleEndian.PutUint16(sector0[0x13:], uint16(ts))
		} else {
			binary.LittleEndian.PutUint32(sector0[0x20:], ts)
		}
		isZip = false

	case BPBReset, BPBClear:
		for i := 2; i < 2+jmpOfs; i++ {
			sector0[i] = 0
		}
		if opts.Mode == BPBReset {
			sector0[0x10] = 2
			sector0[0x18] = 0x3f
			sector0[0x1a] = 0xff
			sector0[0x24] = 0x80
		}
	}

	if opts.BPBSize != 0 && opts.BPBSize < jmpOfs+2 {
		for i := opts.BPBSize; i < jmpOfs+2; i++ {
			sector0[i] = 0
		}
	}

	configureMBR(&sector0, opts.MaxSectors, opts.CHS, isZip)

	ladder := mbr.SyncLadder(sector0, s.BootBase, opts.Mode == BPBCopy)
	for i, sec := range ladder {
		if err := s.Dev.Seek(uint32(i)); err != nil {
			return err
		}
		if err := s.Dev.WriteSectors(sec[:], 1); err != nil {
			return err
		}
	}
	return nil
}
