package fbengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/fbtool/fbinst/alloc"
)

// FileInfo is one catalog entry as reported by Info, with its gap-filling
// accounting already applied (size in the unit matching its own region).
type FileInfo struct {
	Extended  bool
	Syslinux  bool
	Name      string
	DataStart uint32
	DataSize  uint32
	DataTime  time.Time
}

// GapRegion is a stretch of allocated-but-empty space between two catalog
// entries (or between the catalog's tail and the first entry, or the last
// entry and the end of the disk), matching print_info's "b != m->data_start"
// reporting.
type GapRegion struct {
	Extended bool
	Start    uint32
	Size     uint32
}

// InfoReport is fbengine's equivalent of print_info's stdout dump, structured
// for a caller to render however it likes.
type InfoReport struct {
	VerMajor, VerMinor byte
	ArMode             bool

	// Disk-mode-only fields.
	BootBase     uint16
	BootSize     uint16
	DebugVersion bool
	BPBStatus    string // "copy", "init", or "zero"
	ZipDrive     bool
	MaxSectors   byte
	CHS          bool

	// Archive-mode-only field: the sector position just past the last
	// file's data (or past the catalog when it is empty), via get_ar_size.
	TotalSectors uint32

	PriSize uint32
	ExtSize uint32

	ListSizeBytes uint32
	ListUsed      uint16
	ListSize      uint16

	Files []FileInfo
	Gaps  []GapRegion

	PrimaryFreeBytes   uint64
	ExtendedFreeBytes  uint64
}

// Info gathers s's header, catalog, and free-space summary, matching
// print_info.
func (s *State) Info() InfoReport {
	report := InfoReport{
		VerMajor:      s.VerMajor,
		VerMinor:      s.VerMinor,
		ArMode:        s.ArMode,
		ListSizeBytes: uint32(s.ListSectors) * 510,
		ListSize:      s.ListSectors,
		ListUsed:      uint16(s.List.Tail()/510) + 1,
	}

	if s.ArMode {
		report.PriSize = uint32(s.ArHeaderPriSize)
		report.ExtSize = s.ArHeaderExtSize
		report.TotalSectors = s.arSize
	} else {
		report.BootBase = s.BootBase
		report.BootSize = s.BootSize
		report.PriSize = s.PriSize
		report.ExtSize = s.TotalSize - s.PriSize

		maxSec, chs := s.mbr0.MaxSec()
		report.MaxSectors = maxSec
		report.CHS = chs
		report.DebugVersion = s.mbr0[0x1a8] != 0
		if s.mbr0[0xd] != 0 {
			report.BPBStatus = "copy"
		} else {
			if s.mbr0[0x18] != 0 {
				report.BPBStatus = "init"
			} else {
				report.BPBStatus = "zero"
			}
			report.ZipDrive = s.mbr0[0x26] == 0x29
		}
	}

	entries := s.List.Entries()
	report.Files = make([]FileInfo, 0, len(entries))

	b := s.ListStart + uint32(s.ListSectors)
	var priUsed, extUsed uint32
	for _, e := range entries {
		rec := e.Record
		unit := uint32(510)
		if rec.DataStart >= s.PriSize {
			unit = 512
		}
		n := ceilDivU32(rec.DataSize, unit)
		if rec.DataStart >= s.PriSize {
			extUsed += n
		} else {
			priUsed += n
		}

		if rec.DataStart != b {
			report.Gaps = append(report.Gaps, splitGap(b, rec.DataStart, s.PriSize)...)
		}

		b = rec.DataStart + n
		report.Files = append(report.Files, FileInfo{
			Extended:  rec.IsExtended(),
			Syslinux:  rec.IsSyslinux(),
			Name:      rec.Name,
			DataStart: rec.DataStart,
			DataSize:  rec.DataSize,
			DataTime:  time.Unix(int64(rec.DataTime), 0),
		})
	}

	if !s.ArMode && b != s.TotalSize {
		report.Gaps = append(report.Gaps, GapRegion{Extended: true, Start: b, Size: s.TotalSize - b})
	}

	if !s.ArMode {
		pri, ext := alloc.FreeSpace(s.Layout(), entries)
		report.PrimaryFreeBytes = pri
		report.ExtendedFreeBytes = ext
	}

	return report
}

// splitGap mirrors print_info's own straddling-region split: a gap that
// spans the primary/extended boundary is reported as two regions, one on
// each side.
func splitGap(start, end, priSize uint32) []GapRegion {
	if start >= priSize || end <= priSize {
		return []GapRegion{{Extended: start >= priSize, Start: start, Size: end - start}}
	}
	return []GapRegion{
		{Extended: false, Start: start, Size: priSize - start},
		{Extended: true, Start: priSize, Size: end - priSize},
	}
}

// String renders report in print_info's own line-oriented text format.
func (r InfoReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %d.%d\n", r.VerMajor, r.VerMinor)

	if !r.ArMode {
		fmt.Fprintf(&b, "base boot sector: %d\n", r.BootBase)
		fmt.Fprintf(&b, "boot code size: %d\n", r.BootSize)
		fmt.Fprintf(&b, "primary data size: %d\n", r.PriSize)
		fmt.Fprintf(&b, "extended data size: %d\n", r.ExtSize)
		fmt.Fprintf(&b, "debug version: %s\n", yesNo(r.DebugVersion))
		fmt.Fprintf(&b, "bpb status: %s\n", r.BPBStatus)
	} else {
		fmt.Fprintf(&b, "file list size: %d\n", r.ListSize)
		fmt.Fprintf(&b, "original primary data size: %d\n", r.PriSize)
		fmt.Fprintf(&b, "original extended data size: %d\n", r.ExtSize)
		fmt.Fprintf(&b, "total sectors: %d\n", r.TotalSectors)
	}

	fmt.Fprintf(&b, "file list size: %d\n", r.ListSize)
	fmt.Fprintf(&b, "file list used: %d\n", r.ListUsed)

	fmt.Fprintln(&b, "files:")
	for _, f := range r.Files {
		flags := " "
		if f.Extended {
			flags = "e"
		}
		syslinux := " "
		if f.Syslinux {
			syslinux = "s"
		}
		fmt.Fprintf(&b, "  %s%s  %q 0x%x %d (%s)\n",
			flags, syslinux, f.Name, f.DataStart, f.DataSize,
			f.DataTime.UTC().Format("2006-01-02 15:04:05"))
	}

	for _, g := range r.Gaps {
		region := 0
		if g.Extended {
			region = 1
		}
		fmt.Fprintf(&b, "  %d*   0x%x 0x%x\n", region, g.Start, g.Size)
	}

	if !r.ArMode {
		fmt.Fprintf(&b, "primary area free space: %d\n", r.PrimaryFreeBytes)
		fmt.Fprintf(&b, "extended area free space: %d\n", r.ExtendedFreeBytes)
	}

	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
