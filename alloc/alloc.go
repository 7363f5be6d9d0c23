// Package alloc implements fbinst's first-fit space allocator: a walk over
// the gaps between existing catalog entries (and the gap after the last
// one) looking for the first one big enough to hold a new file, honoring
// the two-region primary/extended placement policy.
//
// The policy preserves a deliberately quirky edge case from the original
// tool: a gap that straddles the primary/extended boundary is accounted in
// primary-sized (510-byte) units when checking whether it fits entirely
// within the primary side, but re-measured in extended-sized (512-byte)
// units when falling back to placing the file in the extended side of that
// same straddling gap. A request that could fit the straddling gap's
// primary portion if counted in extended units, but doesn't fit when
// counted in primary units, is rejected rather than placed — this matches
// the original allocator's behavior and is preserved rather than "fixed".
package alloc

import (
	"github.com/boljen/go-bitmap"

	"github.com/fbtool/fbinst/catalog"
	fberrors "github.com/fbtool/fbinst/errors"
)

// Layout gives the allocator the two boundaries it needs: where the
// reserved header/catalog area ends (the first sector available for file
// data) and where the primary area gives way to the extended area.
type Layout struct {
	// ListEnd is the first sector position past the catalog, i.e.
	// fb_list_start + fb_list_sectors.
	ListEnd uint32
	// PriSize is fb_pri_size: the sector position where the extended area
	// begins.
	PriSize uint32
	// TotalSize is fb_total_size: the sector position just past the end
	// of the extended area.
	TotalSize uint32
}

// Result is where a new file of a given size should be placed.
type Result struct {
	// Start is the sector position the file's data should start at.
	Start uint32
	// InsertOffset is the catalog list byte offset a new record should be
	// inserted at to keep position order, per catalog.List.InsertAt.
	InsertOffset int
}

func ceilDivU32(a, b uint32) uint32 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// checkSpace evaluates one gap [begin, end) against a pending request of
// size bytes, given the caller's current sector-count guess (count, units
// depending on context) and whether the file must land in the extended
// area. It returns the placement start and true on success, or updates
// count to the extended-area sector requirement and returns false so the
// caller can retry against the same gap in extended units.
func checkSpace(priSize uint32, size uint32, count *uint32, begin, end uint32, isExt bool) (start uint32, ok bool) {
	if begin >= priSize || end <= priSize {
		// Gap lies entirely on one side of the primary/extended boundary.
		if (begin >= priSize || !isExt) && end-begin >= *count {
			return begin, true
		}
		return 0, false
	}

	// Gap straddles the boundary.
	if !isExt && priSize-begin >= *count {
		return begin, true
	}

	*count = ceilDivU32(size, 512)
	if end-priSize >= *count {
		return priSize, true
	}
	return 0, false
}

// Find performs a first-fit search over the gaps implied by entries (the
// catalog's current records in on-disk order), returning where a new file
// of size bytes should be written and where its catalog record should be
// inserted. isExt forces extended-area placement; if false the file may
// still land in the extended area when it doesn't fit in the primary
// portion of a straddling gap, per checkSpace.
func Find(layout Layout, entries []catalog.Entry, size uint32, isExt bool) (Result, error) {
	begin := layout.ListEnd
	count := ceilDivU32(size, 510)

	for _, e := range entries {
		if start, ok := checkSpace(layout.PriSize, size, &count, begin, e.Record.DataStart, isExt); ok {
			return Result{Start: start, InsertOffset: e.Offset}, nil
		}

		unit := uint32(510)
		if e.Record.DataStart >= layout.PriSize {
			unit = 512
		}
		begin = e.Record.DataStart + ceilDivU32(e.Record.DataSize, unit)
	}

	tailOffset := 0
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		tailOffset = last.Offset + lengthOfEncodedAt(last)
	}

	if start, ok := checkSpace(layout.PriSize, size, &count, begin, layout.TotalSize, isExt); ok {
		return Result{Start: start, InsertOffset: tailOffset}, nil
	}
	return Result{}, fberrors.NoSpace.WithMessage("not enough space for file")
}

// lengthOfEncodedAt is a small helper recomputing a record's on-disk length
// from its decoded form, so Find can compute the tail insertion offset
// without re-walking the list's raw bytes.
func lengthOfEncodedAt(e catalog.Entry) int {
	const headerSize = 1 + 1 + 4 + 4 + 4
	return headerSize + len(e.Record.Name) + 1
}

// UsageBitmap builds a diagnostic sector-usage bitmap over
// [0, layout.TotalSize) for `info`/`check`: one bit per sector, set if any
// file or the catalog/header claims it. This never drives allocation
// decisions; Find always does a fresh first-fit walk, matching the
// original's refusal to cache free-space state.
func UsageBitmap(layout Layout, entries []catalog.Entry) bitmap.Bitmap {
	bm := bitmap.New(int(layout.TotalSize))
	for i := uint32(0); i < layout.ListEnd; i++ {
		bm.Set(int(i), true)
	}
	total := int(layout.TotalSize)
	for _, e := range entries {
		unit := uint32(510)
		if e.Record.DataStart >= layout.PriSize {
			unit = 512
		}
		sectors := ceilDivU32(e.Record.DataSize, unit)
		for i := uint32(0); i < sectors; i++ {
			pos := int(e.Record.DataStart + i)
			if pos < total {
				bm.Set(pos, true)
			}
		}
	}
	return bm
}

// FreeSpace reports the number of free payload bytes in the primary area
// (510-byte units, excluding header/catalog/file sectors) and in the
// extended area (512-byte units), matching print_info's arithmetic.
func FreeSpace(layout Layout, entries []catalog.Entry) (primaryFreeBytes uint64, extendedFreeBytes uint64) {
	var priSectorsUsed, extSectorsUsed uint32
	for _, e := range entries {
		if e.Record.DataStart < layout.PriSize {
			priSectorsUsed += ceilDivU32(e.Record.DataSize, 510)
		} else {
			extSectorsUsed += ceilDivU32(e.Record.DataSize, 512)
		}
	}
	priReserved := layout.ListEnd
	priFreeSectors := layout.PriSize - priReserved - priSectorsUsed
	extTotalSectors := layout.TotalSize - layout.PriSize
	extFreeSectors := extTotalSectors - extSectorsUsed

	primaryFreeBytes = uint64(priFreeSectors) * 510
	extendedFreeBytes = uint64(extFreeSectors) * 512
	return primaryFreeBytes, extendedFreeBytes
}
