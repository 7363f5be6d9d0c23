// Package disks provides the known floppy geometry table fbinst's BPB
// synthesis falls back to for legacy media, a size-string parser for the
// K/M/G suffixes every fbinst size flag accepts, and best-effort physical
// disk enumeration for the --list flag.
package disks

import (
	_ "embed"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/fbtool/fbinst/device"
	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/mbr"
)

// Geometry is one row of the known-media table: enough CHS-era detail to
// derive a device's total sector count and, for floppies, the
// sectors-per-track/heads pair fbinst's BPB writer wants instead of the
// fixed 63/255 hard-disk geometry.
type Geometry struct {
	Name               string `csv:"name"`
	Slug               string `csv:"slug"`
	FirstYearAvailable uint   `csv:"first_year_available"`
	FormFactor         string `csv:"form_factor"`
	IsRemovable        bool   `csv:"is_removable"`
	BitsPerAddressUnit uint   `csv:"bits_per_address_unit"`
	AddressUnitsPerSector uint `csv:"address_units_per_sector"`
	SectorsPerTrack    uint   `csv:"sectors_per_track"`
	TotalDataTracks    uint   `csv:"total_data_tracks"`
	HiddenTracks       uint   `csv:"hidden_tracks"`
	Heads              uint   `csv:"heads"`
	Notes              string `csv:"notes"`
}

// TotalSizeBytes is the geometry's capacity, the minimum size of an image
// file formatted for it.
func (g Geometry) TotalSizeBytes() int64 {
	bits := int64(g.BitsPerAddressUnit) * int64(g.AddressUnitsPerSector) *
		int64(g.SectorsPerTrack) * int64(g.TotalDataTracks) * int64(g.Heads)
	return (bits + 7) / 8
}

// TotalSectors is the geometry's capacity in 512-byte sectors.
func (g Geometry) TotalSectors() uint32 {
	return uint32(g.TotalSizeBytes() / 512)
}

//go:embed disk-geometries.csv
var rawGeometryCSV string

var geometries = map[string]Geometry{}

func init() {
	err := gocsv.UnmarshalToCallback(strings.NewReader(rawGeometryCSV), func(row Geometry) error {
		if _, exists := geometries[row.Slug]; exists {
			return fmt.Errorf("duplicate disk geometry slug %q", row.Slug)
		}
		geometries[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// Lookup returns the known geometry for slug ("1440k", "2880k", ...).
func Lookup(slug string) (Geometry, error) {
	g, ok := geometries[slug]
	if !ok {
		return Geometry{}, fberrors.InvalidArgument.WithMessage(
			fmt.Sprintf("no known disk geometry named %q", slug))
	}
	return g, nil
}

// LookupBySectorCount returns the known floppy geometry matching an exact
// total sector count, the way bpb.BuildFAT16 recognizes 2880/5760 as
// floppy-special-cased sizes rather than deriving cluster size from the
// table.
func LookupBySectorCount(totalSectors uint32) (Geometry, bool) {
	for _, g := range geometries {
		if g.TotalSectors() == totalSectors {
			return g, true
		}
	}
	return Geometry{}, false
}

// All returns every known geometry, sorted by capacity, for --list-geometries
// style output.
func All() []Geometry {
	out := make([]Geometry, 0, len(geometries))
	for _, g := range geometries {
		out = append(out, g)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].TotalSectors() < out[j-1].TotalSectors(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ParseSize parses a size argument carrying an optional K/M/G suffix
// (kilobytes, megabytes or gigabytes, returned as 512-byte sectors) the way every
// fbinst size flag (--primary, --extended, --list-size, --part-size) does,
// matching get_sector_size: a bare number with no suffix is already a
// sector count.
func ParseSize(s string) (uint32, error) {
	if s == "" {
		return 0, fberrors.InvalidArgument.WithMessage("empty size argument")
	}
	suffix := s[len(s)-1]
	numPart := s
	var shift uint
	switch suffix {
	case 'k', 'K':
		numPart, shift = s[:len(s)-1], 1
	case 'm', 'M':
		numPart, shift = s[:len(s)-1], 11
	case 'g', 'G':
		numPart, shift = s[:len(s)-1], 21
	}

	base := 10
	trimmed := strings.TrimPrefix(strings.TrimPrefix(numPart, "0x"), "0X")
	if trimmed != numPart {
		base = 16
	}
	v, err := strconv.ParseUint(trimmed, base, 64)
	if err != nil {
		return 0, fberrors.InvalidArgument.WrapError(err)
	}
	return uint32(v << shift), nil
}

// DeviceInfo is one entry of a --list device enumeration.
type DeviceInfo struct {
	Path          string
	SizeBytes     int64
	FbFormatted   bool
	HumanReadable string
}

// ListDevices probes each candidate path (typically the conventional
// /dev/sdX or /dev/nvme0n1-style device nodes on the running system) and
// reports those that open successfully, their size, and whether their
// first sector carries the fb MBR watermark at ladder index 0 — the same
// signal list_devs prints as a trailing "*" next to a disk's size.
// Candidates that fail to open (permission denied, doesn't exist) are
// silently skipped, matching the original's xd_open-returns-NULL-means-skip
// behavior.
func ListDevices(candidates []string) []DeviceInfo {
	var out []DeviceInfo
	for _, path := range candidates {
		info, ok := probeDevice(path)
		if ok {
			out = append(out, info)
		}
	}
	return out
}

func probeDevice(path string) (DeviceInfo, bool) {
	dev, err := device.OpenFile(path, false)
	if err != nil {
		return DeviceInfo{}, false
	}
	defer dev.Close()

	sectors, err := dev.SizeInSectors()
	if err != nil || sectors == 0 {
		return DeviceInfo{}, false
	}

	var sector mbr.Sector
	if err := dev.ReadSectors(sector[:], 1); err != nil {
		return DeviceInfo{}, false
	}

	size := int64(sectors) * 512
	return DeviceInfo{
		Path:          path,
		SizeBytes:     size,
		FbFormatted:   sector.IsFbMBR(0),
		HumanReadable: humanSize(size),
	}, true
}

func humanSize(size int64) string {
	sectors := size >> 9
	const threshold = 3 << 20
	if sectors >= threshold {
		return fmt.Sprintf("%dg", (sectors+(1<<20))>>21)
	}
	return fmt.Sprintf("%dm", (sectors+(1<<10))>>11)
}
