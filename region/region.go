// Package region carries the dual sector-size accounting that runs through
// every size and position computation in fbinst: primary-area sectors give
// up their last two bytes to a self-referential LBA watermark, so only 510
// of their 512 bytes are usable payload, while extended-area sectors are
// used raw.
package region

import (
	"fmt"

	fberrors "github.com/fbtool/fbinst/errors"
)

// SectorSize is the physical size of every sector fbinst deals with,
// regardless of region. It is the unit LBAs are expressed in.
const SectorSize = 512

// WatermarkSize is the number of trailing bytes a primary-area sector
// spends on its own LBA.
const WatermarkSize = 2

// Region names one of the two areas of an fb disk.
type Region int

const (
	// Primary is the watermarked area: boot blob, catalog, and any file
	// data that fits ahead of the extended area.
	Primary Region = iota
	// Extended is the plain area following the primary area: 512 usable
	// bytes per sector, no watermark.
	Extended
)

func (r Region) String() string {
	switch r {
	case Primary:
		return "primary"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("region(%d)", int(r))
	}
}

// UnitSize returns the number of usable payload bytes per sector in this
// region: 510 for Primary (512 minus the watermark), 512 for Extended.
func (r Region) UnitSize() int {
	if r == Primary {
		return SectorSize - WatermarkSize
	}
	return SectorSize
}

// SectorsFor returns the number of whole sectors needed to hold n bytes of
// payload in this region, rounding up.
func (r Region) SectorsFor(n uint32) uint32 {
	unit := uint32(r.UnitSize())
	if n == 0 {
		return 0
	}
	return (n + unit - 1) / unit
}

// Validate reports whether r is one of the two known region values.
func (r Region) Validate() error {
	if r != Primary && r != Extended {
		return fberrors.InvalidUnitSize.WithMessage(
			fmt.Sprintf("unknown region %d", int(r)),
		)
	}
	return nil
}
