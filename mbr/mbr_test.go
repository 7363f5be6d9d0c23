package mbr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/mbr"
)

func TestLBAToCHSEncodesHeadAndSector(t *testing.T) {
	// H=255, S=63: LBA 63 is cylinder 0, head 1, sector 1.
	chs := mbr.LBAToCHS(63)
	assert.Equal(t, [3]byte{1, 1, 0}, chs)
}

func TestLBAToCHSCylinderTruncation(t *testing.T) {
	// Past 1024 cylinders the value wraps to 10 bits, and bits 8-9 of the
	// wrapped cylinder land in the sector byte's top 2 bits: cylinder 1280
	// becomes 256, whose low byte is 0 and whose bit 8 is set.
	const sectorsPerCylinder = 255 * 63
	lba := uint32(1280)*sectorsPerCylinder + 5*63 + 10
	chs := mbr.LBAToCHS(lba)
	assert.Equal(t, byte(0), chs[2], "cylinder low byte is 0 for cylinder 1280 wrapped to 256")
	assert.NotEqual(t, byte(0), chs[1]&0xc0, "high cylinder bits fold into sector byte")
}

func TestIsFbMBR(t *testing.T) {
	var s mbr.Sector
	s.SetEndMagicField(mbr.EndMagic)
	s.SetFbMagicField(mbr.FbMagic)
	s.SetLBA(3)
	assert.True(t, s.IsFbMBR(3))
	assert.False(t, s.IsFbMBR(4))
}

func TestIsFbMBRRejectsWrongMagic(t *testing.T) {
	var s mbr.Sector
	s.SetEndMagicField(mbr.EndMagic)
	s.SetLBA(0)
	assert.False(t, s.IsFbMBR(0))
}

func TestSyncLadderDecrementsLadderIndexAndPartition(t *testing.T) {
	var template mbr.Sector
	template.SetEndMagicField(mbr.EndMagic)
	template.SetFbMagicField(mbr.FbMagic)
	template.SetBootBase(2)
	template.SetPartitionEntryAt(0, mbr.PartitionEntry{
		Active:   true,
		Type:     0x0c,
		StartLBA: 100,
		Sectors:  1000,
	})

	ladder := mbr.SyncLadder(template, 2, false)
	require.Len(t, ladder, 3)

	for i, sector := range ladder {
		assert.Equal(t, uint16(i), sector.LBA())
	}

	p0 := ladder[0].PartitionEntryAt(0)
	assert.EqualValues(t, 100, p0.StartLBA)

	p1 := ladder[1].PartitionEntryAt(0)
	assert.EqualValues(t, 99, p1.StartLBA)

	p2 := ladder[2].PartitionEntryAt(0)
	assert.EqualValues(t, 98, p2.StartLBA)
}

func TestFindFbMBR(t *testing.T) {
	var broken, good mbr.Sector
	good.SetEndMagicField(mbr.EndMagic)
	good.SetFbMagicField(mbr.FbMagic)
	good.SetLBA(1)

	sectors := []mbr.Sector{broken, good}
	idx, ok := mbr.FindFbMBR(sectors, len(sectors))
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestFindFbMBRNotFound(t *testing.T) {
	sectors := make([]mbr.Sector, 4)
	_, ok := mbr.FindFbMBR(sectors, len(sectors))
	assert.False(t, ok)
}

func TestRestoreRebuildsSectorZero(t *testing.T) {
	var sector0, survivor mbr.Sector
	sector0.SetPartitionEntryAt(0, mbr.PartitionEntry{
		Active: true, Type: 0x0c, StartLBA: 63, Sectors: 2000,
	})

	survivor.SetEndMagicField(mbr.EndMagic)
	survivor.SetFbMagicField(mbr.FbMagic)
	survivor.SetBootBase(1)
	survivor.SetLBA(1)
	survivor.SetMaxSec(16, true)

	ladder, err := mbr.Restore(sector0, survivor, 1)
	require.NoError(t, err)
	require.Len(t, ladder, 2)

	assert.Equal(t, mbr.FbMagic, ladder[0].FbMagicField())
	maxSec, forceCHS := ladder[0].MaxSec()
	assert.EqualValues(t, 16, maxSec)
	assert.True(t, forceCHS)

	p := ladder[0].PartitionEntryAt(0)
	assert.EqualValues(t, 63, p.StartLBA)
}

func TestRestoreRejectsSurvivorZero(t *testing.T) {
	var sector0, survivor mbr.Sector
	_, err := mbr.Restore(sector0, survivor, 0)
	assert.Error(t, err)
}
