// Package syslinux patches a loaded ldlinux.bin image with the sector
// position it was installed at, for both the v3 and v4 on-disk descriptor
// layouts, and recomputes its checksum the way syslinux's own installer
// does: LDLINUX_MAGIC minus the sum of every payload dword.
package syslinux

import (
	"encoding/binary"

	fberrors "github.com/fbtool/fbinst/errors"
)

// LdlinuxMagic is the 4-byte signature syslinux stamps into ldlinux.sys/
// ldlinux.bin's descriptor structure, used both to locate the descriptor
// and as the checksum's starting value.
const LdlinuxMagic uint32 = 0x3eb202fe

const (
	signatureOffset = 0x202
	searchStart     = 0x200
	searchEnd       = 0x400
)

// Patch rewrites an ldlinux.bin image of more than two sectors in place so it
// knows its own installed position. dataStart is the image's first sector
// on the whole disk (m->data_start); partitionOffset is the LBA of the
// partition it's installed into (fb_part_ofs), since syslinux's internal
// sector numbers are partition-relative.
//
// image must span more than 2 sectors (over 1024 bytes) and at most
// 64 sectors, matching the original's bounds check; its length need not be
// a whole number of sectors beyond that — only the first 1024 bytes (the
// two sectors the descriptor and checksum live in) are modified.
func Patch(image []byte, dataStart uint32, partitionOffset uint32) error {
	const maxSectors = 64
	sectors := (len(image) + 511) / 512
	if sectors <= 2 || sectors > maxSectors {
		return fberrors.SyslinuxInvalid.WithMessage("invalid size for ldlinux.bin")
	}
	if len(image) < signatureOffset+8 {
		return fberrors.SyslinuxInvalid.WithMessage("image too short to contain signature")
	}
	if string(image[signatureOffset:signatureOffset+8]) != "SYSLINUX" {
		return fberrors.SyslinuxInvalid.WithMessage("not a valid ldlinux.bin")
	}

	pa := searchStart
	for pa < searchEnd && binary.LittleEndian.Uint32(image[pa:]) != LdlinuxMagic {
		pa += 4
	}
	if pa >= searchEnd {
		return fberrors.SyslinuxInvalid.WithMessage("syslinux signature not found")
	}

	start := dataStart + 1 - partitionOffset
	version := int(image[0x20b]) - '0'

	var secCountOffset, dwordCountOffset, checksumOffset int
	switch version {
	case 3:
		binary.LittleEndian.PutUint32(image[0x1f8:], start)
		binary.LittleEndian.PutUint16(image[0x1fe:], 0xaa55)
		dwordCountOffset = pa + 8
		secCountOffset = pa + 10
		checksumOffset = pa + 12
	case 4:
		epaOfs := int(binary.LittleEndian.Uint16(image[pa+22:]))
		ofs := int(binary.LittleEndian.Uint16(image[0x200+epaOfs+14:]))
		binary.LittleEndian.PutUint32(image[ofs:], start)
		ofs = int(binary.LittleEndian.Uint16(image[0x200+epaOfs+16:]))
		binary.LittleEndian.PutUint32(image[ofs:], 0xffffffff)
		dwordCountOffset = pa + 12
		secCountOffset = pa + 8
		checksumOffset = pa + 16
	default:
		return fberrors.SyslinuxInvalid.WithMessage("unsupported ldlinux.bin version")
	}

	dwordCount := (len(image) - 512) >> 2
	binary.LittleEndian.PutUint16(image[dwordCountOffset:], uint16(dwordCount))

	// Only a single-sector "adv" sector count is supported: fbinst places
	// the whole image contiguously rather than chaining sector pointers,
	// so the sector-count field is fixed at 0 (v3) or 1 (v4).
	if version == 3 {
		binary.LittleEndian.PutUint16(image[secCountOffset:], 0)
	} else {
		binary.LittleEndian.PutUint16(image[secCountOffset:], 1)
	}

	binary.LittleEndian.PutUint32(image[checksumOffset:], 0)
	checksum := LdlinuxMagic
	for i := 0; i < dwordCount; i++ {
		checksum -= binary.LittleEndian.Uint32(image[0x200+i*4:])
	}
	binary.LittleEndian.PutUint32(image[checksumOffset:], checksum)
	return nil
}
