package fbengine_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/device"
	"github.com/fbtool/fbinst/fbengine"
)

// testTemplate builds a minimal MBRTemplate: a bare boot sector with a
// 3-byte BPB hole and a one-sector boot code payload, enough shape for
// Format/Sync/Update to stamp real fields into without needing a real
// chainloader.
func testTemplate() fbengine.MBRTemplate {
	var tmpl fbengine.MBRTemplate
	tmpl.Sector0[0] = 0xeb
	tmpl.Sector0[1] = 0x03
	tmpl.BootCode = make([]byte, 32)
	return tmpl
}

func newMemDevice(t *testing.T, sectors uint32) device.BlockDevice {
	t.Helper()
	dev, err := device.NewMemoryDevice(make([]byte, int(sectors)*512))
	require.NoError(t, err)
	return dev
}

// Scenario 1: format --raw --force --fat32 --size 262144.
func TestFormatRawFAT32Scenario(t *testing.T) {
	dev := newMemDevice(t, 262144)

	err := fbengine.Format(dev, testTemplate(), fbengine.FormatOptions{
		Force:      true,
		Raw:        true,
		ForceFAT32: true,
		Base:       63,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, dev.Seek(0))
	sector0 := make([]byte, 512)
	require.NoError(t, dev.ReadSectors(sector0, 1))

	assert.EqualValues(t, 0x80, sector0[0x1be], "partition marked active")
	assert.EqualValues(t, 0x0c, sector0[0x1c2], "FAT32 partition type")
	assert.EqualValues(t, 63, binary.LittleEndian.Uint32(sector0[0x1c6:]), "start LBA")
	assert.EqualValues(t, 262081, binary.LittleEndian.Uint32(sector0[0x1ca:]), "partition length")

	require.NoError(t, dev.Seek(63))
	bootRecord := make([]byte, 512)
	require.NoError(t, dev.ReadSectors(bootRecord, 1))
	assert.EqualValues(t, 262081, binary.LittleEndian.Uint32(bootRecord[0x20:]), "BPB_TotSec32")
	assert.EqualValues(t, 2, bootRecord[0x10], "BPB_NumFATs")
	assert.EqualValues(t, 32, binary.LittleEndian.Uint16(bootRecord[0x0e:]), "BPB_RsvdSecCnt")
	assert.EqualValues(t, 1, bootRecord[0x0d], "BPB_SecPerClus")
}

// Scenario 2: format img (default) then add hello.txt.
func TestFormatThenAddScenario(t *testing.T) {
	const partSectors = 20000
	dev := newMemDevice(t, 16128+partSectors)

	err := fbengine.Format(dev, testTemplate(), fbengine.FormatOptions{ForceFAT16: true}, nil)
	require.NoError(t, err)

	s, err := fbengine.Open(dev, false)
	require.NoError(t, err)

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	rec, err := s.Add("hello.txt", bytes.NewReader(payload), 256, 0, false)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	assert.Equal(t, "hello.txt", rec.Name)
	assert.EqualValues(t, 256, rec.DataSize)
	assert.EqualValues(t, 0, rec.Flag)

	wantStart := s.ListStart + uint32(s.ListSectors)
	assert.Equal(t, wantStart, rec.DataStart)

	require.NoError(t, dev.Seek(rec.DataStart))
	sector := make([]byte, 512)
	require.NoError(t, dev.ReadSectors(sector, 1))
	assert.Equal(t, payload, sector[:256])
	for _, b := range sector[256:510] {
		assert.Zero(t, b)
	}
	assert.EqualValues(t, rec.DataStart, binary.LittleEndian.Uint16(sector[510:]))
}
