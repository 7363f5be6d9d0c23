package bpb_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/bpb"
)

func TestBuildFAT32GoldenScenario(t *testing.T) {
	// format --raw --force --fat32 --size 262144, partition at LBA 63.
	sectors, fatSectors, reserved, err := bpb.BuildFAT32(bpb.Params{
		TotalSectors:  262144 - 63,
		HiddenSectors: 63,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 32, reserved)
	assert.EqualValues(t, 1, sectors[0][0x0d], "BPB_SecPerClus")
	assert.EqualValues(t, 2, sectors[0][0x10], "BPB_NumFATs")
	assert.EqualValues(t, 32, binary.LittleEndian.Uint16(sectors[0][0x0e:]), "BPB_RsvdSecCnt")
	assert.EqualValues(t, 262144-63, binary.LittleEndian.Uint32(sectors[0][0x20:]), "BPB_TotSec32")
	assert.Equal(t, uint16(0xaa55), binary.LittleEndian.Uint16(sectors[0][0x1fe:]))
	assert.Greater(t, fatSectors, uint32(0))
}

func TestBuildFAT16RejectsUndersizedClusterTable(t *testing.T) {
	_, _, _, err := bpb.BuildFAT16(bpb.Params{TotalSectors: 100})
	assert.Error(t, err)
}

func TestBuildFAT16FloppyGeometry(t *testing.T) {
	sector, fatSectors, _, err := bpb.BuildFAT16(bpb.Params{TotalSectors: 2880})
	require.NoError(t, err)
	assert.EqualValues(t, 1, sector[0x0d])
	assert.EqualValues(t, 9, fatSectors)
	assert.EqualValues(t, 18, binary.LittleEndian.Uint16(sector[0x18:]))
	assert.EqualValues(t, 2, binary.LittleEndian.Uint16(sector[0x1a:]))
}

func TestBuildFAT16UnitSizeOverride(t *testing.T) {
	sector, _, _, err := bpb.BuildFAT16(bpb.Params{TotalSectors: 1_000_000, UnitSize: 64})
	require.NoError(t, err)
	assert.EqualValues(t, 64, sector[0x0d])
}

func TestFATSentinelFAT32(t *testing.T) {
	buf := bpb.FATSentinel(0, true)
	assert.Equal(t, uint32(0x0FFFFFF8), binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(0x0FFFFFFF), binary.LittleEndian.Uint32(buf[4:]))
}

func TestFATSentinelFAT16SmallVolume(t *testing.T) {
	buf := bpb.FATSentinel(100, false)
	assert.Equal(t, uint32(0x00FFFFF8), binary.LittleEndian.Uint32(buf))
}
