package disks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/disks"
)

func TestLookupKnownFloppyGeometry(t *testing.T) {
	g, err := disks.Lookup("1440k")
	require.NoError(t, err)
	assert.EqualValues(t, 2880, g.TotalSectors())
}

func TestLookupUnknownSlugFails(t *testing.T) {
	_, err := disks.Lookup("does-not-exist")
	assert.Error(t, err)
}

func TestLookupBySectorCountFindsFloppySpecialCases(t *testing.T) {
	g, ok := disks.LookupBySectorCount(2880)
	require.True(t, ok)
	assert.Equal(t, "1440k", g.Slug)

	g, ok = disks.LookupBySectorCount(5760)
	require.True(t, ok)
	assert.Equal(t, "2880k", g.Slug)

	_, ok = disks.LookupBySectorCount(123456)
	assert.False(t, ok)
}

func TestAllReturnsGeometriesSortedByCapacity(t *testing.T) {
	all := disks.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].TotalSectors(), all[i].TotalSectors())
	}
}

func TestParseSizePlainSectorCount(t *testing.T) {
	v, err := disks.ParseSize("2880")
	require.NoError(t, err)
	assert.EqualValues(t, 2880, v)
}

func TestParseSizeKilobyteSuffix(t *testing.T) {
	v, err := disks.ParseSize("1440k")
	require.NoError(t, err)
	assert.EqualValues(t, 2880, v)
}

func TestParseSizeMegabyteSuffix(t *testing.T) {
	v, err := disks.ParseSize("4M")
	require.NoError(t, err)
	assert.EqualValues(t, 4*2048, v)
}

func TestParseSizeGigabyteSuffix(t *testing.T) {
	v, err := disks.ParseSize("1G")
	require.NoError(t, err)
	assert.EqualValues(t, 1*2097152, v)
}

func TestParseSizeHexWithSuffix(t *testing.T) {
	v, err := disks.ParseSize("0x10k")
	require.NoError(t, err)
	assert.EqualValues(t, 16*2, v)
}

func TestParseSizeRejectsBadSuffix(t *testing.T) {
	_, err := disks.ParseSize("100q")
	assert.Error(t, err)
}

func TestListDevicesSkipsUnopenablePaths(t *testing.T) {
	infos := disks.ListDevices([]string{"/nonexistent/path/to/device"})
	assert.Empty(t, infos)
}
