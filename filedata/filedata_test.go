package filedata_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/device"
	"github.com/fbtool/fbinst/filedata"
)

func TestSaveLoadRoundTripPrimary(t *testing.T) {
	buf := make([]byte, 20*512)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xab}, 1500)
	const priSize = 15
	const start = 5

	require.NoError(t, filedata.Save(dev, priSize, start, uint32(len(payload)), bytes.NewReader(payload)))

	var out bytes.Buffer
	require.NoError(t, filedata.Load(dev, priSize, start, uint32(len(payload)), &out))

	assert.Equal(t, payload, out.Bytes())
}

func TestSaveLoadRoundTripExtended(t *testing.T) {
	buf := make([]byte, 20*512)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xcd}, 1600)
	const priSize = 5
	const start = 10

	require.NoError(t, filedata.Save(dev, priSize, start, uint32(len(payload)), bytes.NewReader(payload)))

	var out bytes.Buffer
	require.NoError(t, filedata.Load(dev, priSize, start, uint32(len(payload)), &out))

	assert.Equal(t, payload, out.Bytes())
}

func TestSavePrimaryStampsWatermark(t *testing.T) {
	buf := make([]byte, 10*512)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{1}, 510)
	require.NoError(t, filedata.Save(dev, 8, 2, uint32(len(payload)), bytes.NewReader(payload)))

	sector := buf[2*512 : 3*512]
	assert.EqualValues(t, 2, uint16(sector[510])|uint16(sector[511])<<8)
}

func TestCopySectorsRelocatesAndRestampsPrimary(t *testing.T) {
	buf := make([]byte, 20*512)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x42}, 510)
	require.NoError(t, filedata.Save(dev, 15, 3, uint32(len(payload)), bytes.NewReader(payload)))

	require.NoError(t, filedata.CopySectors(dev, 15, 7, 3, uint32(len(payload))))

	var out bytes.Buffer
	require.NoError(t, filedata.Load(dev, 15, 7, uint32(len(payload)), &out))
	assert.Equal(t, payload, out.Bytes())

	sector := buf[7*512 : 8*512]
	assert.EqualValues(t, 7, uint16(sector[510])|uint16(sector[511])<<8)
}
