package fbengine

import (
	"github.com/fbtool/fbinst/bpb"
	"github.com/fbtool/fbinst/device"
)

const globBufSectors = 64

// fatWriter accumulates the total sector count a format_fat16/32 call will
// write before doing any I/O, so a non-nil ProgressFunc can report a
// meaningful done/total pair instead of an unbounded counter.
type fatWriter struct {
	dev      device.BlockDevice
	progress ProgressFunc
	total    uint32
	done     uint32
}

func (w *fatWriter) write(buf []byte, n int) error {
	if err := w.dev.WriteSectors(buf, n); err != nil {
		return err
	}
	w.done += uint32(n)
	if w.progress != nil {
		w.progress(w.done, w.total)
	}
	return nil
}

// zero writes n sectors of zero bytes (stamped with nothing; data-area
// sectors outside the primary region carry no watermark), in
// globBufSectors-sized batches.
func (w *fatWriter) zero(n uint32) error {
	for n > 0 {
		batch := uint32(globBufSectors)
		if batch > n {
			batch = n
		}
		buf := make([]byte, int(batch)*512)
		if err := w.write(buf, int(batch)); err != nil {
			return err
		}
		n -= batch
	}
	return nil
}

// formatFAT16 writes a FAT16 boot sector, both FAT copies (each seeded with
// the media-descriptor sentinel entry and zero-filled otherwise), and a
// zeroed root directory region, matching format_fat16. totalSectors is the
// partition's own size; partStart is its LBA on the whole disk (BPB_HiddSec).
// dev must already be positioned at partStart.
func formatFAT16(dev device.BlockDevice, totalSectors, partStart uint32, unitSize byte, align bool, progress ProgressFunc) error {
	boot, fatSectors, reservedSectors, err := bpb.BuildFAT16(bpb.Params{
		TotalSectors:  totalSectors,
		HiddenSectors: partStart,
		UnitSize:      unitSize,
		Align:         align,
	})
	if err != nil {
		return err
	}

	rootDirSectors := fat16RootDirSectors(totalSectors, partStart)
	w := &fatWriter{
		dev:      dev,
		progress: progress,
		total:    uint32(reservedSectors) + 2*fatSectors + rootDirSectors,
	}

	if err := w.write(boot[:], 1); err != nil {
		return err
	}
	if err := w.zero(uint32(reservedSectors) - 1); err != nil {
		return err
	}

	sentinel := make([]byte, 512)
	copy(sentinel, bpb.FATSentinel(totalSectors, false))
	for i := 0; i < 2; i++ {
		if err := w.write(sentinel, 1); err != nil {
			return err
		}
		if err := w.zero(fatSectors - 1); err != nil {
			return err
		}
	}

	return w.zero(rootDirSectors)
}

// fat16RootDirSectors mirrors BuildFAT16's own internal root-entry-count
// choice (0xF0 below MIN_FAT16_SIZE, else 0x200/0x1F0 by HiddenSectors'
// parity) so the zero-fill length matches what the boot sector advertises.
func fat16RootDirSectors(totalSectors, partStart uint32) uint32 {
	const minFAT16Size = 8401
	var rootEntries uint32 = 0xf0
	if totalSectors >= minFAT16Size {
		if partStart&1 != 0 {
			rootEntries = 0x200
		} else {
			rootEntries = 0x1f0
		}
	}
	return (rootEntries*32 + 511) / 512
}

// formatFAT32 writes the 3-sector FAT32 boot record, its mirror at sector
// bbs, both FAT copies, and a zeroed root directory cluster, matching
// format_fat32.
func formatFAT32(dev device.BlockDevice, totalSectors, partStart uint32, unitSize byte, align bool, progress ProgressFunc) error {
	sectors, fatSectors, reservedSectors, err := bpb.BuildFAT32(bpb.Params{
		TotalSectors:  totalSectors,
		HiddenSectors: partStart,
		UnitSize:      unitSize,
		Align:         align,
	})
	if err != nil {
		return err
	}

	const bbs = 6
	spc := sectors[0][0x0d]

	w := &fatWriter{
		dev:      dev,
		progress: progress,
		total:    uint32(reservedSectors) + 2*fatSectors + uint32(spc),
	}

	flat := make([]byte, 0, 3*512)
	for _, s := range sectors {
		flat = append(flat, s[:]...)
	}

	if err := w.write(flat, 3); err != nil {
		return err
	}
	if err := w.zero(bbs - 3); err != nil {
		return err
	}
	if err := w.write(flat, 3); err != nil {
		return err
	}
	if err := w.zero(uint32(reservedSectors) - bbs - 3); err != nil {
		return err
	}

	sentinel := make([]byte, 512)
	copy(sentinel, bpb.FATSentinel(totalSectors, true))
	for i := 0; i < 2; i++ {
		if err := w.write(sentinel, 1); err != nil {
			return err
		}
		if err := w.zero(fatSectors - 1); err != nil {
			return err
		}
	}

	return w.zero(uint32(spc))
}
