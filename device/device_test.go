package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/device"
	"github.com/fbtool/fbinst/region"
)

func TestMemoryDeviceSizeInSectors(t *testing.T) {
	buf := make([]byte, 10*region.SectorSize)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	n, err := dev.SizeInSectors()
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)
}

func TestMemoryDeviceRejectsPartialSector(t *testing.T) {
	_, err := device.NewMemoryDevice(make([]byte, 100))
	assert.Error(t, err)
}

func TestMemoryDeviceReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, 4*region.SectorSize)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	payload := make([]byte, 2*region.SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, dev.Seek(1))
	require.NoError(t, dev.WriteSectors(payload, 2))

	readBack := make([]byte, 2*region.SectorSize)
	require.NoError(t, dev.Seek(1))
	require.NoError(t, dev.ReadSectors(readBack, 2))

	assert.Equal(t, payload, readBack)
	assert.NoError(t, dev.Lock())
	assert.NoError(t, dev.Close())
}

func TestMemoryDeviceReadPastEndFails(t *testing.T) {
	buf := make([]byte, 2*region.SectorSize)
	dev, err := device.NewMemoryDevice(buf)
	require.NoError(t, err)

	require.NoError(t, dev.Seek(1))
	err = dev.ReadSectors(make([]byte, 2*region.SectorSize), 2)
	assert.Error(t, err)
}
