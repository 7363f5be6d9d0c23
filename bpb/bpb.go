// Package bpb synthesizes FAT16 and FAT32 BIOS Parameter Blocks the way
// DOS/Windows format.com would, byte for byte: jump code, OEM name, cluster
// size chosen from Microsoft's canonical threshold table, FAT size computed
// from the resulting geometry, and (for FAT32) the FSInfo sector and its
// mirror.
package bpb

import (
	"encoding/binary"

	"github.com/fbtool/fbinst/disks"
	fberrors "github.com/fbtool/fbinst/errors"
)

// SectorSize is the only sector size fbinst's BPB synthesis supports.
const SectorSize = 512

// clusterSizeEntry is one row of a cluster-size-by-volume-size table: a
// volume of at most MaxSectors sectors uses SectorsPerCluster, unless that
// field is 0, meaning the volume is too small for this filesystem type.
type clusterSizeEntry struct {
	MaxSectors        uint32
	SectorsPerCluster byte
}

// fat16Table is the Microsoft cluster-size threshold table for FAT16.
var fat16Table = []clusterSizeEntry{
	{8400, 0},
	{32680, 2},
	{262144, 4},
	{524288, 8},
	{1048576, 16},
	{2097152, 32},
	{4194304, 64},
}

// fat32Table is the Microsoft cluster-size threshold table for FAT32.
var fat32Table = []clusterSizeEntry{
	{66600, 0},
	{532480, 1},
	{16777216, 8},
	{33554432, 16},
	{67108864, 32},
	{0xFFFFFFFF, 64},
}

func clusterSizeFor(table []clusterSizeEntry, totalSectors uint32) (byte, error) {
	for _, e := range table {
		if totalSectors <= e.MaxSectors {
			if e.SectorsPerCluster == 0 {
				return 0, fberrors.InvalidUnitSize.WithMessage("volume too small")
			}
			return e.SectorsPerCluster, nil
		}
	}
	return 64, nil
}

// Params describes the inputs to FAT16/FAT32 synthesis.
type Params struct {
	// TotalSectors is the size of the FAT volume in sectors, excluding any
	// partition offset.
	TotalSectors uint32
	// HiddenSectors is the LBA of the start of this partition on the disk
	// it lives on ("part_offset" elsewhere in fbinst); recorded verbatim
	// into BPB_HiddSec.
	HiddenSectors uint32
	// UnitSize overrides the cluster-size table when non-zero.
	UnitSize byte
	// Align requests that the FAT size be inflated so the first data
	// sector lands on a cluster-size boundary relative to HiddenSectors.
	Align bool
}

const (
	offJump        = 0x000
	offOEMName     = 0x003
	offBytesPerSec = 0x00b
	offSecPerClus  = 0x00d
	offRsvdSecCnt  = 0x00e
	offNumFATs     = 0x010
	offRootEntCnt  = 0x011
	offTotSec16    = 0x013
	offMedia       = 0x015
	offFATSz16     = 0x016
	offSecPerTrk   = 0x018
	offNumHeads    = 0x01a
	offHiddSec     = 0x01c
	offTotSec32    = 0x020
	offSig55AA     = 0x1fe
)

const (
	offDrvNum16 = 0x024
	offBootSig16 = 0x026
	offVolID16   = 0x027
	offVolLab16  = 0x02b
	offFilSysType16 = 0x036
)

const (
	offFATSz32      = 0x024
	offExtFlags32   = 0x028
	offFSVer32      = 0x02a
	offRootClus32   = 0x02c
	offFSInfo32     = 0x030
	offBkBootSec32  = 0x032
	offDrvNum32     = 0x040
	offBootSig32    = 0x042
	offVolID32      = 0x043
	offVolLab32     = 0x047
	offFilSysType32 = 0x052
)

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// BuildFAT16 synthesizes a FAT16 boot sector (always root-dir-capable,
// single 512-byte sector) for the given parameters, and returns the number
// of sectors occupied by the FAT (fz16) and the reserved-sector count
// (nrs, always 1) alongside the raw sector bytes.
func BuildFAT16(p Params) (sector [SectorSize]byte, fatSectors uint32, reservedSectors uint16, err error) {
	const numFATs = 2
	const rootDirEntries16Small = 0xF0
	const minFAT16Size = 8401

	reservedSectors = 1
	rootDirEntries := uint16(rootDirEntries16Small)
	media := byte(0xf0)
	if p.TotalSectors >= minFAT16Size {
		if p.HiddenSectors&1 != 0 {
			rootDirEntries = 0x200
		} else {
			rootDirEntries = 0x1f0
		}
		media = 0xf8
	}

	sector[offJump], sector[offJump+1], sector[offJump+2] = 0xeb, 0x3c, 0x90
	copy(sector[offOEMName:], "MSWIN4.1")
	binary.LittleEndian.PutUint16(sector[offBytesPerSec:], SectorSize)
	sector[offRsvdSecCnt] = byte(reservedSectors)
	sector[offNumFATs] = numFATs
	binary.LittleEndian.PutUint16(sector[offRootEntCnt:], rootDirEntries)
	sector[offMedia] = media
	binary.LittleEndian.PutUint16(sector[offSecPerTrk:], 63)
	binary.LittleEndian.PutUint16(sector[offNumHeads:], 255)
	binary.LittleEndian.PutUint32(sector[offHiddSec:], p.HiddenSectors)
	sector[offDrvNum16] = 0x80
	sector[offBootSig16] = 0x29
	copy(sector[offVolLab16:], "NO NAME    ")
	fsType := "FAT16   "
	if p.TotalSectors < minFAT16Size {
		fsType = "FAT12   "
	}
	copy(sector[offFilSysType16:], fsType)
	binary.LittleEndian.PutUint16(sector[offSig55AA:], 0xaa55)

	if p.TotalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(sector[offTotSec16:], uint16(p.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(sector[offTotSec32:], p.TotalSectors)
	}

	var spc byte
	if geom, ok := disks.LookupBySectorCount(p.TotalSectors); ok && (p.TotalSectors == 2880 || p.TotalSectors == 5760) {
		spc, fatSectors = 1, 9
		if p.TotalSectors == 5760 {
			spc = 2
		}
		binary.LittleEndian.PutUint16(sector[offSecPerTrk:], uint16(geom.SectorsPerTrack))
		binary.LittleEndian.PutUint16(sector[offNumHeads:], uint16(geom.Heads))
	} else {
		if p.UnitSize != 0 {
			spc = p.UnitSize
		} else {
			spc, err = clusterSizeFor(fat16Table, p.TotalSectors)
			if err != nil {
				return sector, 0, 0, err
			}
		}
		rootDirSectors := ceilDiv(uint32(rootDirEntries)*32, SectorSize)
		dataSectors := p.TotalSectors - (uint32(reservedSectors) + rootDirSectors)
		divisor := 256*uint32(spc) + numFATs
		fatSectors = ceilDiv(dataSectors, divisor)

		if p.Align {
			b := p.HiddenSectors + uint32(reservedSectors) + fatSectors*2 + rootDirSectors
			n := ceilDiv(b, uint32(spc))
			fatSectors += (n*uint32(spc) - b) / 2
		}

		dataSectors = p.TotalSectors - (uint32(reservedSectors) + rootDirSectors)
		clusterCount := dataSectors / uint32(spc)
		if clusterCount >= 65525 {
			return sector, 0, 0, fberrors.InvalidUnitSize.WithMessage(
				"unit size invalid for fat16: too many clusters")
		}
	}
	sector[offSecPerClus] = spc
	binary.LittleEndian.PutUint16(sector[offFATSz16:], uint16(fatSectors))
	return sector, fatSectors, reservedSectors, nil
}

// BuildFAT32 synthesizes the 3-sector FAT32 boot record (boot sector,
// FSInfo, a spare boot sector) for the given parameters, mirrored at
// sector bbs=6 by the caller (fbengine's FAT32 formatter writes both copies).
func BuildFAT32(p Params) (sectors [3][SectorSize]byte, fatSectors uint32, reservedSectors uint16, err error) {
	const numFATs = 2

	reservedSectors = 32

	boot := &sectors[0]
	boot[offJump], boot[offJump+1], boot[offJump+2] = 0xeb, 0x58, 0x90
	copy(boot[offOEMName:], "MSWIN4.1")
	binary.LittleEndian.PutUint16(boot[offBytesPerSec:], SectorSize)
	binary.LittleEndian.PutUint16(boot[offRsvdSecCnt:], reservedSectors)
	boot[offNumFATs] = numFATs
	boot[offMedia] = 0xf8
	binary.LittleEndian.PutUint16(boot[offSecPerTrk:], 63)
	binary.LittleEndian.PutUint16(boot[offNumHeads:], 255)
	binary.LittleEndian.PutUint32(boot[offHiddSec:], p.HiddenSectors)
	binary.LittleEndian.PutUint16(boot[offExtFlags32:], 0)
	binary.LittleEndian.PutUint16(boot[offFSVer32:], 0)
	binary.LittleEndian.PutUint32(boot[offRootClus32:], 2)
	binary.LittleEndian.PutUint16(boot[offFSInfo32:], 1)
	binary.LittleEndian.PutUint16(boot[offBkBootSec32:], 6)
	boot[offDrvNum32] = 0x80
	boot[offBootSig32] = 0x29
	copy(boot[offVolLab32:], "NO NAME    ")
	copy(boot[offFilSysType32:], "FAT32   ")
	binary.LittleEndian.PutUint16(boot[offSig55AA:], 0xaa55)
	binary.LittleEndian.PutUint32(boot[offTotSec32:], p.TotalSectors)

	fsInfo := &sectors[1]
	binary.LittleEndian.PutUint32(fsInfo[0x000:], 0x41615252)
	binary.LittleEndian.PutUint32(fsInfo[0x1e4:], 0x61417272)
	binary.LittleEndian.PutUint32(fsInfo[0x1e8:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(fsInfo[0x1ec:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint16(fsInfo[0x1fe:], 0xaa55)
	binary.LittleEndian.PutUint16(sectors[2][0x1fe:], 0xaa55)

	var spc byte
	if p.UnitSize != 0 {
		spc = p.UnitSize
	} else {
		spc, err = clusterSizeFor(fat32Table, p.TotalSectors)
		if err != nil {
			return sectors, 0, 0, err
		}
	}
	boot[offSecPerClus] = spc

	dataSectors := p.TotalSectors - uint32(reservedSectors)
	divisor := ceilDiv(256*uint32(spc)+numFATs, 2)
	fatSectors = ceilDiv(dataSectors, divisor)

	if p.Align {
		b := p.HiddenSectors + uint32(reservedSectors) + fatSectors*2
		n := ceilDiv(b, uint32(spc))
		fatSectors += (n*uint32(spc) - b) / 2
	}

	dataSectors = p.TotalSectors - uint32(reservedSectors)
	clusterCount := dataSectors / uint32(spc)
	if clusterCount < 65525 {
		return sectors, 0, 0, fberrors.InvalidUnitSize.WithMessage(
			"unit size invalid for fat32: too few clusters")
	}
	binary.LittleEndian.PutUint32(boot[offFATSz32:], fatSectors)
	return sectors, fatSectors, reservedSectors, nil
}

// FATSentinel returns the first FAT entries every FAT16/FAT32 volume is
// initialized with: a media-descriptor byte in the low byte of entry 0,
// followed by the end-of-chain markers DOS itself writes for entries 0/1.
func FATSentinel(totalSectors uint32, fat32 bool) []byte {
	buf := make([]byte, 12)
	if fat32 {
		binary.LittleEndian.PutUint32(buf[0:], 0x0FFFFFF8)
		binary.LittleEndian.PutUint32(buf[4:], 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(buf[8:], 0x0FFFFFFF)
		return buf
	}
	buf = buf[:4]
	if totalSectors < 8401 {
		binary.LittleEndian.PutUint32(buf, 0x00FFFFF8)
	} else {
		binary.LittleEndian.PutUint32(buf, 0xFFFFFFF8)
	}
	return buf
}
