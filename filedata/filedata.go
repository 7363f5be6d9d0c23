// Package filedata streams file payload bytes into and out of the primary
// (510-byte unit, watermarked) or extended (512-byte unit, plain) area, and
// moves payload already on disk from one location to another with
// watermark fixup, the way resize and pack need.
package filedata

import (
	"io"

	"github.com/fbtool/fbinst/catalog"
	"github.com/fbtool/fbinst/device"
	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/region"
)

// chunkSectors caps how many sectors a single read/write batches into one
// buffer, mirroring the original's fixed-size global_buffer transfer loop
// rather than allocating one huge buffer per file.
const chunkSectors = 64

// regionFor returns which region a sector position lives in.
func regionFor(pos, priSize uint32) region.Region {
	if pos < priSize {
		return region.Primary
	}
	return region.Extended
}

// Save streams size bytes from src onto dev starting at sector start,
// stamping the primary-area watermark as it goes if start falls in the
// primary area. It reports an error if src yields fewer than size bytes.
func Save(dev device.BlockDevice, priSize uint32, start uint32, size uint32, src io.Reader) error {
	r := regionFor(start, priSize)
	unit := uint32(r.UnitSize())

	if err := dev.Seek(start); err != nil {
		return err
	}

	remaining := size
	pos := start
	for remaining > 0 {
		batchBytes := chunkSectors * unit
		if remaining < batchBytes {
			batchBytes = remaining
		}
		sectors := int(r.SectorsFor(batchBytes))

		payload := make([]byte, sectors*int(unit))
		n, err := io.ReadFull(src, payload[:batchBytes])
		if err != nil && err != io.ErrUnexpectedEOF {
			return fberrors.IoError.WrapError(err)
		}
		if uint32(n) != batchBytes {
			return fberrors.IoError.WithMessage("short read while saving file data")
		}

		var out []byte
		if r == region.Primary {
			out = catalog.AddMark(payload, sectors, pos)
		} else {
			out = payload
		}

		if err := dev.WriteSectors(out, sectors); err != nil {
			return err
		}

		remaining -= batchBytes
		pos += uint32(sectors)
	}
	return nil
}

// Load streams size bytes of file rec's data from dev into dst, stripping
// the primary-area watermark as needed.
func Load(dev device.BlockDevice, priSize uint32, start uint32, size uint32, dst io.Writer) error {
	r := regionFor(start, priSize)
	unit := uint32(r.UnitSize())

	if err := dev.Seek(start); err != nil {
		return err
	}

	remaining := size
	for remaining > 0 {
		batchBytes := chunkSectors * unit
		if remaining < batchBytes {
			batchBytes = remaining
		}
		sectors := int(r.SectorsFor(batchBytes))

		raw := make([]byte, sectors*512)
		if err := dev.ReadSectors(raw, sectors); err != nil {
			return err
		}

		var payload []byte
		if r == region.Primary {
			payload = catalog.RemoveMark(raw, sectors)
		} else {
			payload = raw
		}

		if _, err := dst.Write(payload[:batchBytes]); err != nil {
			return fberrors.IoError.WrapError(err)
		}

		remaining -= batchBytes
	}
	return nil
}

// CopySectors reads the region-sized units holding sizeBytes of payload
// starting at srcStart and rewrites
// them starting at dstStart, re-stamping the watermark if the destination
// is in the primary area, matching the original's copy_disk used by resize
// and defragmenting moves. Regions of src and dst are assumed identical
// (both primary or both extended); fbengine never moves data across the
// primary/extended boundary mid-file.
func CopySectors(dev device.BlockDevice, priSize uint32, dstStart, srcStart uint32, sizeBytes uint32) error {
	r := regionFor(srcStart, priSize)
	totalSectors := int(r.SectorsFor(sizeBytes))

	for done := 0; done < totalSectors; {
		batch := chunkSectors
		if totalSectors-done < batch {
			batch = totalSectors - done
		}

		if err := dev.Seek(srcStart + uint32(done)); err != nil {
			return err
		}
		raw := make([]byte, batch*512)
		if err := dev.ReadSectors(raw, batch); err != nil {
			return err
		}

		var out []byte
		if r == region.Primary {
			payload := catalog.RemoveMark(raw, batch)
			out = catalog.AddMark(payload, batch, dstStart+uint32(done))
		} else {
			out = raw
		}

		if err := dev.Seek(dstStart + uint32(done)); err != nil {
			return err
		}
		if err := dev.WriteSectors(out, batch); err != nil {
			return err
		}

		done += batch
	}
	return nil
}
