package fbengine

import (
	"github.com/fbtool/fbinst/catalog"
	"github.com/fbtool/fbinst/device"
	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/mbr"
)

// Minimum/maximum primary area size and default catalog size, in bytes,
// matching format_disk's MIN_PRI_SIZE/MAX_PRI_SIZE/DEF_LIST_SIZE/
// MAX_LIST_SIZE/MIN_NAND_ALIGN/DEF_FAT32_SIZE.
const (
	minPriSizeBytes   = 63 * 256
	maxPriSizeBytes   = 65535
	defListSizeBytes  = 8192
	maxListSizeBytes  = 65024
	minNandAlignMask  = 255
	defFAT32SizeBytes = 512 * 2048
)

// FormatOptions mirrors format_disk's flag set.
type FormatOptions struct {
	// Force recreates the disk layout even if an existing partition table
	// is found (--force/-f). Required (and implied) by Raw.
	Force bool
	// Raw formats a single partition with no fb container at all
	// (--raw/-r): base/PartSize give the partition's own start/size and
	// format_fat16/32 is called directly on it.
	Raw bool
	// ZipDrive stamps the zip-drive BIOS-detection bytes into the boot
	// code blob (--zip/-z).
	ZipDrive bool
	// Align requests cluster-boundary-aligned FAT tables (--align/-a).
	Align bool
	// ForceFAT16/ForceFAT32 override the size-based filesystem choice
	// (--fat16/--fat32); at most one may be set.
	ForceFAT16 bool
	ForceFAT32 bool

	// PriSizeBytes/ExtSizeBytes are the primary/extended area sizes in
	// bytes (--primary/-p, --extended/-e); zero means "use the default or
	// whatever --archive supplies".
	PriSizeBytes uint32
	ExtSizeBytes uint32
	// ListSizeBytes is the catalog size in bytes (--list-size/-l); zero
	// means DefListSizeBytes.
	ListSizeBytes uint32
	// Base is the number of MBR ladder copies (--base/-b) in container
	// mode, or the data partition's own start sector in raw mode.
	Base uint32
	// PartSize overrides the data partition's size in sectors; zero means
	// "whatever's left after the fb container, or the whole raw device".
	PartSize uint32
	// NandAlignMask is (alignment in sectors)-1, a power-of-two-minus-one
	// (--nalign/-n); zero disables NAND alignment.
	NandAlignMask uint32
	// UnitSize overrides the FAT cluster size table (--unit-size/-u).
	UnitSize byte
	// MaxSectors is the MBR's max-sectors-per-read field (--max-sectors),
	// 0..127; zero keeps the template's own value.
	MaxSectors byte
	// CHS forces CHS addressing mode in the MBR (--chs).
	CHS bool

	// ArchivePath seeds pri/ext/list size defaults and an initial file set
	// from an existing archive (--archive), the way format_disk's
	// get_ar_header call fills in whatever sizes weren't given explicitly.
	ArchivePath string
}

// MBRTemplate is the compiled-in boot code blob laid out exactly like a
// fresh fb_mbr_data sector: everything from offset 2 onward up to the
// partition table is opaque boot code fbengine never interprets, but it
// must still exist for config_mbr/sync_disk to stamp fields into. Embedding
// the real boot loader image is cmd/fbinst's job (it owns the compiled-in
// debug/release blobs via go:embed); fbengine works against whatever
// template the caller supplies.
type MBRTemplate struct {
	// Sector0 is the base boot sector, including its own partition table
	// (which Format overwrites) and trailing boot code blob, before any
	// per-command field (boot_base, fb_magic, end_magic, max_sec) is set.
	Sector0 mbr.Sector
	// BootCode is the payload written into the boot-data sector(s)
	// immediately after the MBR ladder, matching fb_mbr_data's bytes past
	// offset 512.
	BootCode []byte
}

// Format lays out a fresh fb container (or a bare partition, in raw mode)
// on dev, matching format_disk.
func Format(dev device.BlockDevice, tmpl MBRTemplate, opts FormatOptions, progress ProgressFunc) error {
	maxSize, err := dev.SizeInSectors()
	if err != nil {
		return err
	}

	priSizeBytes := opts.PriSizeBytes
	extSizeBytes := opts.ExtSizeBytes
	listSizeBytes := opts.ListSizeBytes

	var seedReader *archiveSeed
	if opts.ArchivePath != "" {
		seed, err := openArchiveSeed(opts.ArchivePath)
		if err != nil {
			return err
		}
		defer seed.Close()
		if priSizeBytes == 0 {
			priSizeBytes = uint32(seed.header.PriSize) * 510
		}
		if extSizeBytes == 0 {
			extSizeBytes = seed.header.ExtSize
		}
		if listSizeBytes == 0 {
			listSizeBytes = uint32(seed.header.ListSize) * 510
		}
		seedReader = seed
	}

	if priSizeBytes == 0 {
		priSizeBytes = minPriSizeBytes
	}
	if priSizeBytes < minPriSizeBytes || priSizeBytes > maxPriSizeBytes {
		return fberrors.InvalidArgument.WithMessage("primary size out of range")
	}
	if listSizeBytes == 0 {
		listSizeBytes = defListSizeBytes
	}
	listSectors := uint16((listSizeBytes + 509) / 510)
	if uint32(listSectors)*510 > maxListSizeBytes {
		return fberrors.InvalidArgument.WithMessage("list size too large")
	}

	if opts.Raw {
		return formatRaw(dev, opts, maxSize)
	}

	nandAlign := opts.NandAlignMask
	totalSize := (priSizeBytes + extSizeBytes + nandAlign) &^ nandAlign
	if totalSize >= maxSize {
		return fberrors.DiskTooSmall.WithMessage("device too small for requested layout")
	}

	partSize := opts.PartSize
	if partSize == 0 || totalSize+partSize > maxSize {
		partSize = maxSize - totalSize
	}

	isFAT32 := opts.ForceFAT32 || (!opts.ForceFAT16 && partSize >= defFAT32SizeBytes)

	base := opts.Base
	isForce := opts.Force
	if !isForce {
		if err := dev.Seek(0); err != nil {
			return err
		}
		var existing mbr.Sector
		if err := dev.ReadSectors(existing[:], 1); err != nil {
			return err
		}
		partOfs := minPartitionStart(existing)
		if partOfs != 0xffffffff {
			if partOfs < priSizeBytes+extSizeBytes {
				return fberrors.InvalidArgument.WithMessage(
					"existing partition overlaps requested layout; use --force to recreate")
			}
			extSizeBytes = partOfs - priSizeBytes
			totalSize = priSizeBytes + extSizeBytes
		} else {
			isForce = true
		}
	}

	bootBase := uint16(base)
	sector0 := tmpl.Sector0
	if isForce {
		sector0.SetPartitionEntryAt(0, mbr.PartitionEntry{
			Active:   true,
			Type:     partitionType(isFAT32),
			StartLBA: totalSize,
			Sectors:  partSize,
		})
		for i := 1; i < 4; i++ {
			sector0.SetPartitionEntryAt(i, mbr.PartitionEntry{})
		}
	}
	sector0.SetFbMagicField(mbr.FbMagic)
	sector0.SetEndMagicField(mbr.EndMagic)
	sector0.SetBootBase(bootBase)
	configureMBR(&sector0, opts.MaxSectors, opts.CHS, opts.ZipDrive)

	ladder := mbr.SyncLadder(sector0, bootBase, false)
	if isForce {
		if err := dev.Lock(); err != nil {
			return err
		}
	}
	for i, sec := range ladder {
		if err := dev.Seek(uint32(i)); err != nil {
			return err
		}
		if err := dev.WriteSectors(sec[:], 1); err != nil {
			return err
		}
	}

	bootSize := uint16((len(tmpl.BootCode) + 509) / 510)
	listStart := uint32(bootBase) + 1 + uint32(bootSize)
	if listStart+uint32(listSectors) > priSizeBytes {
		return fberrors.InvalidMbr.WithMessage("boot ladder overflows into catalog region")
	}

	bootData := make([]byte, int(bootSize)*510)
	copy(bootData, tmpl.BootCode)
	header := dataHeader{
		BootSize: bootSize,
		VerMajor: formatVerMajor,
		VerMinor: formatVerMinor,
		ListUsed: 1,
		ListSize: listSectors,
		PriSize:  uint16(priSizeBytes / 510),
		ExtSize:  extSizeBytes,
	}
	header.marshalInto(bootData)
	bootPayload := catalog.AddMark(bootData, int(bootSize), uint32(bootBase)+1)
	if err := dev.Seek(uint32(bootBase) + 1); err != nil {
		return err
	}
	if err := dev.WriteSectors(bootPayload, int(bootSize)); err != nil {
		return err
	}

	if err := zeroPrimaryTail(dev, listStart+uint32(listSectors), priSizeBytes/510); err != nil {
		return err
	}

	if isForce {
		if err := dev.Seek(totalSize); err != nil {
			return err
		}
		if isFAT32 {
			if err := formatFAT32(dev, partSize, totalSize, opts.UnitSize, opts.Align, progress); err != nil {
				return err
			}
		} else {
			if err := formatFAT16(dev, partSize, totalSize, opts.UnitSize, opts.Align, progress); err != nil {
				return err
			}
		}
	}

	if seedReader != nil {
		state, err := Open(dev, false)
		if err != nil {
			return err
		}
		if err := importInto(state, seedReader); err != nil {
			return err
		}
		if err := state.Save(); err != nil {
			return err
		}
	}

	return nil
}

func partitionType(isFAT32 bool) byte {
	if isFAT32 {
		return 0x0c
	}
	return 0x0e
}

func formatRaw(dev device.BlockDevice, opts FormatOptions, maxSize uint32) error {
	if !opts.Force {
		return fberrors.InvalidArgument.WithMessage("--raw requires --force")
	}
	base := opts.Base
	partSize := opts.PartSize
	if partSize == 0 {
		partSize = maxSize - base
	}
	isFAT32 := opts.ForceFAT32 || (!opts.ForceFAT16 && partSize >= defFAT32SizeBytes)

	var sector0 mbr.Sector
	sector0.SetPartitionEntryAt(0, mbr.PartitionEntry{
		Active:   true,
		Type:     partitionType(isFAT32),
		StartLBA: base,
		Sectors:  partSize,
	})
	sector0.SetEndMagicField(mbr.EndMagic)
	if err := dev.Lock(); err != nil {
		return err
	}
	if err := dev.Seek(0); err != nil {
		return err
	}
	if err := dev.WriteSectors(sector0[:], 1); err != nil {
		return err
	}

	if err := zeroPrimaryTail(dev, 1, base); err != nil {
		return err
	}

	if err := dev.Seek(base); err != nil {
		return err
	}
	if isFAT32 {
		return formatFAT32(dev, partSize, base, opts.UnitSize, opts.Align, nil)
	}
	return formatFAT16(dev, partSize, base, opts.UnitSize, opts.Align, nil)
}

// zeroPrimaryTail zero-fills (stamping the watermark) every primary-area
// sector from start up to priSize, in GLOB_BUF_SIZE-sized batches.
func zeroPrimaryTail(dev device.BlockDevice, start, priSize uint32) error {
	const batch = 64
	if err := dev.Seek(start); err != nil {
		return err
	}
	for pos := start; pos < priSize; {
		n := uint32(batch)
		if pos+n > priSize {
			n = priSize - pos
		}
		payload := make([]byte, int(n)*510)
		out := catalog.AddMark(payload, int(n), pos)
		if err := dev.WriteSectors(out, int(n)); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

// configureMBR matches config_mbr: sets the max-sectors-per-read/force-CHS
// field and, for zip-drive targeting, stamps the BIOS boot-signature byte
// and an OEM name directly into the unused boot code region so zip-drive
// BIOSes recognize the image as bootable.
func configureMBR(s *mbr.Sector, maxSec byte, chs bool, isZip bool) {
	if maxSec == 0 {
		maxSec, _ = s.MaxSec()
	}
	s.SetMaxSec(maxSec, chs)
	if isZip {
		s[0x26] = 0x29
		copy(s[3:], "MSWIN4.1")
	}
}

// Restore scans the first maxScan sectors for a surviving fb MBR ladder
// copy and, if sector 0 itself has been clobbered by a generic partitioning
// tool, rebuilds it and resyncs the whole ladder from the survivor,
// matching restore_disk.
func Restore(dev device.BlockDevice, maxScan int) error {
	sectors := make([]mbr.Sector, maxScan)
	for i := range sectors {
		if err := dev.Seek(uint32(i)); err != nil {
			return err
		}
		if err := dev.ReadSectors(sectors[i][:], 1); err != nil {
			return err
		}
	}

	idx, ok := mbr.FindFbMBR(sectors, maxScan)
	if !ok {
		return fberrors.InvalidMbr.WithMessage("no surviving fb MBR ladder copy found")
	}
	if idx == 0 {
		return nil
	}

	if err := dev.Seek(0); err != nil {
		return err
	}
	var freshSector0 mbr.Sector
	if err := dev.ReadSectors(freshSector0[:], 1); err != nil {
		return err
	}

	ladder, err := mbr.Restore(freshSector0, sectors[idx], idx)
	if err != nil {
		return err
	}
	for i, sec := range ladder {
		if err := dev.Seek(uint32(i)); err != nil {
			return err
		}
		if err := dev.WriteSectors(sec[:], 1); err != nil {
			return err
		}
	}
	return nil
}
