// Package mbr implements the fb MBR ladder: the multi-copy boot sector that
// lets the BIOS treat any of the first boot_base+1 sectors of the disk as a
// valid MBR, CHS/LBA translation at the fixed geometry fb requires, and the
// fb-ness detection used by restore.
package mbr

import (
	"encoding/binary"

	fberrors "github.com/fbtool/fbinst/errors"
)

// FbMagic is the constant stamped into every fb MBR copy's fb_magic field
// (offset 0x1b4). Boot sector payloads are opaque blobs; this magic is a
// container-format constant fbinst itself owns, not part of any blob.
const FbMagic uint32 = 0xfb000001

// EndMagic is the boot-sector signature every valid MBR ends with.
const EndMagic uint16 = 0xaa55

// Heads and SectorsPerTrack are the fixed CHS geometry the fb MBR ladder
// assumes for every CHS triple it writes, regardless of the real geometry
// reported by the BIOS.
const (
	Heads           = 255
	SectorsPerTrack = 63
)

const sectorsPerCylinder = Heads * SectorsPerTrack

// Size is the length of one fb MBR sector in bytes.
const Size = 512

const (
	offBootCode  = 0x002
	offMaxSec    = 0x1ad
	offLBA       = 0x1ae
	offSPT       = 0x1b0
	offHeads     = 0x1b1
	offBootBase  = 0x1b2
	offFbMagic   = 0x1b4
	offPartTable = 0x1b8
	offEndMagic  = 0x1fe

	partEntrySize = 16
	partTableEnd  = 0x1fe
)

// Sector is one copy of the fb MBR: a raw 512-byte sector interpreted
// through the fb_mbr field layout. Callers keep it as a []byte and use the
// accessors below rather than a fixed Go struct, because the boot code
// region (0x002..0x1ac) is an opaque blob whose length varies with
// max_sec/force-chs history and isn't itself of interest to fbinst.
type Sector [Size]byte

// MaxSec returns the max-sectors-per-read field and whether force-CHS mode
// (bit 7) is set.
func (s *Sector) MaxSec() (maxSec byte, forceCHS bool) {
	v := s[offMaxSec]
	return v & 0x7f, v&0x80 != 0
}

// SetMaxSec writes the max-sectors-per-read field and force-CHS bit.
func (s *Sector) SetMaxSec(maxSec byte, forceCHS bool) {
	v := maxSec & 0x7f
	if forceCHS {
		v |= 0x80
	}
	s[offMaxSec] = v
}

// LBA returns this copy's ladder index, stored at offset 0x1ae.
func (s *Sector) LBA() uint16 {
	return binary.LittleEndian.Uint16(s[offLBA:])
}

// SetLBA sets this copy's ladder index.
func (s *Sector) SetLBA(index uint16) {
	binary.LittleEndian.PutUint16(s[offLBA:], index)
}

// BootBase returns the index of the last sector in the MBR ladder.
func (s *Sector) BootBase() uint16 {
	return binary.LittleEndian.Uint16(s[offBootBase:])
}

// SetBootBase sets the index of the last sector in the MBR ladder.
func (s *Sector) SetBootBase(base uint16) {
	binary.LittleEndian.PutUint16(s[offBootBase:], base)
}

// FbMagicField returns the fb_magic field at offset 0x1b4.
func (s *Sector) FbMagicField() uint32 {
	return binary.LittleEndian.Uint32(s[offFbMagic:])
}

// SetFbMagicField sets the fb_magic field.
func (s *Sector) SetFbMagicField(magic uint32) {
	binary.LittleEndian.PutUint32(s[offFbMagic:], magic)
}

// EndMagicField returns the boot-sector signature at offset 0x1fe.
func (s *Sector) EndMagicField() uint16 {
	return binary.LittleEndian.Uint16(s[offEndMagic:])
}

// SetEndMagicField sets the boot-sector signature.
func (s *Sector) SetEndMagicField(magic uint16) {
	binary.LittleEndian.PutUint16(s[offEndMagic:], magic)
}

// IsFbMBR reports whether this sector passes the fb-ness test for a ladder
// copy expected to carry ladder index wantIndex: the boot signature and
// fb_magic must match, and the lba field must equal the copy's own index.
func (s *Sector) IsFbMBR(wantIndex uint16) bool {
	return s.EndMagicField() == EndMagic &&
		s.FbMagicField() == FbMagic &&
		s.LBA() == wantIndex
}

// PartitionEntry is one of the four 16-byte entries in the MBR's partition
// table, offsets 0x1be..0x1fd in a 4-entry table (fb only ever populates
// one, at 0x1be, but the layout supports all four).
type PartitionEntry struct {
	Active   bool
	Type     byte
	StartLBA uint32
	Sectors  uint32
}

// partitionEntryOffset returns the byte offset of partition table entry i
// (0-based) within the sector.
func partitionEntryOffset(i int) int {
	return 0x1be + i*partEntrySize
}

// PartitionEntryAt reads partition table entry i (0..3).
func (s *Sector) PartitionEntryAt(i int) PartitionEntry {
	off := partitionEntryOffset(i)
	return PartitionEntry{
		Active:   s[off] == 0x80,
		Type:     s[off+4],
		StartLBA: binary.LittleEndian.Uint32(s[off+8:]),
		Sectors:  binary.LittleEndian.Uint32(s[off+12:]),
	}
}

// SetPartitionEntryAt writes partition table entry i (0..3), filling in its
// CHS start/end triples from p.StartLBA/p.Sectors via LBAToCHS.
func (s *Sector) SetPartitionEntryAt(i int, p PartitionEntry) {
	off := partitionEntryOffset(i)
	if p.Active {
		s[off] = 0x80
	} else {
		s[off] = 0x00
	}
	copy(s[off+1:off+4], LBAToCHS(p.StartLBA))
	s[off+4] = p.Type
	if p.Sectors > 0 {
		copy(s[off+5:off+8], LBAToCHS(p.StartLBA+p.Sectors-1))
	}
	binary.LittleEndian.PutUint32(s[off+8:], p.StartLBA)
	binary.LittleEndian.PutUint32(s[off+12:], p.Sectors)
}

// LBAToCHS converts a logical block address to the 3-byte CHS encoding fb
// uses throughout, at the fixed geometry Heads=255, SectorsPerTrack=63. The
// cylinder component is truncated to 10 bits and its high 2 bits are folded
// into the sector byte, matching the BIOS INT13h CHS packing convention.
func LBAToCHS(lba uint32) [3]byte {
	cylinder := (lba / sectorsPerCylinder) & 0x3ff
	rem := lba % sectorsPerCylinder
	head := byte(rem / SectorsPerTrack)
	sector := byte(rem%SectorsPerTrack) + 1
	sector |= byte((cylinder >> 8) << 6)
	cyl := byte(cylinder)
	return [3]byte{head, sector, cyl}
}

// SyncLadder rewrites the fb MBR ladder sectors 1..bootBase from a template
// built from sector 0: each descending copy's lba field is set to its own
// index, its active partition entry's start LBA is decremented by one (so
// the data partition effectively starts one sector earlier as seen from
// that copy) with its CHS triple recomputed to match, and — when copyBPB is
// set — the embedded FAT16 BPB's reserved-sector count (at the same offset
// the boot code occupies, byte 0x00e) is decremented once per step. The
// returned slice has bootBase+1 sectors, index 0 unchanged from template.
func SyncLadder(template Sector, bootBase uint16, copyBPB bool) []Sector {
	ladder := make([]Sector, int(bootBase)+1)
	buf := template
	for i := 0; i <= int(bootBase); i++ {
		buf.SetLBA(uint16(i))
		if i > 0 {
			for entry := 0; entry < 4; entry++ {
				p := buf.PartitionEntryAt(entry)
				if p.Type == 0 {
					continue
				}
				p.StartLBA--
				buf.SetPartitionEntryAt(entry, p)
			}
			if copyBPB {
				const bpbReservedSectorsOffset = 0x00e
				nrs := binary.LittleEndian.Uint16(buf[bpbReservedSectorsOffset:])
				binary.LittleEndian.PutUint16(buf[bpbReservedSectorsOffset:], nrs-1)
			}
		}
		ladder[i] = buf
	}
	return ladder
}

// FindFbMBR scans sectors[0:maxScan] for the first sector whose fb-ness
// test passes against its own position, used by restore to locate a
// surviving ladder copy after sector 0 has been clobbered by a generic
// partition tool. It returns the index found and true, or 0 and false.
func FindFbMBR(sectors []Sector, maxScan int) (int, bool) {
	if maxScan > len(sectors) {
		maxScan = len(sectors)
	}
	for i := 0; i < maxScan; i++ {
		if sectors[i].IsFbMBR(uint16(i)) {
			return i, true
		}
	}
	return 0, false
}

// Restore reconstructs sector 0's fb-specific fields (boot code region,
// max_sec, boot_base, fb_magic) from the surviving ladder copy found at
// index i, while keeping sector 0's own partition table and end magic, then
// resyncs the whole ladder from the merged template.
func Restore(sector0 Sector, survivor Sector, survivorIndex int) ([]Sector, error) {
	if survivorIndex == 0 {
		return nil, fberrors.InvalidMbr.WithMessage("survivor is already sector 0")
	}
	merged := sector0
	copy(merged[offBootCode:offMaxSec], survivor[offBootCode:offMaxSec])
	maxSec, forceCHS := survivor.MaxSec()
	merged.SetMaxSec(maxSec, forceCHS)
	merged[offSPT] = survivor[offSPT]
	merged[offHeads] = survivor[offHeads]
	merged.SetBootBase(survivor.BootBase())
	merged.SetFbMagicField(survivor.FbMagicField())
	return SyncLadder(merged, merged.BootBase(), false), nil
}
