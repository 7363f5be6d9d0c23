package fbengine_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/fbengine"
)

// formatFreshDisk builds a small FAT16-backed fb container over an
// in-memory device, sized identically across every test in this file so
// the primary area's capacity (31 sectors: MBR, boot/header sector,
// 17-sector catalog, then 12 free sectors) is shared, known math.
func formatFreshDisk(t *testing.T) *fbengine.State {
	t.Helper()
	dev := newMemDevice(t, 16128+20000)
	require.NoError(t, fbengine.Format(dev, testTemplate(), fbengine.FormatOptions{ForceFAT16: true}, nil))
	s, err := fbengine.Open(dev, false)
	require.NoError(t, err)
	return s
}

// Scenario 5: format img; add a.bin 2000B; add b.bin 3000B; remove a.bin; pack.
func TestAddRemovePackScenario(t *testing.T) {
	s := formatFreshDisk(t)

	_, err := s.Add("a.bin", bytes.NewReader(make([]byte, 2000)), 2000, 0, false)
	require.NoError(t, err)
	bRec, err := s.Add("b.bin", bytes.NewReader(make([]byte, 3000)), 3000, 0, false)
	require.NoError(t, err)
	require.NoError(t, s.Remove("a.bin"))
	require.NoError(t, s.Pack())

	packed, ok := s.Find("b.bin")
	require.True(t, ok)
	wantStart := s.ListStart + uint32(s.ListSectors)
	assert.Equal(t, wantStart, packed.DataStart, "b.bin slides down to the front of the region")
	assert.NotEqual(t, bRec.DataStart, packed.DataStart, "pack actually moved it")

	report := s.Info()
	for _, g := range report.Gaps {
		assert.GreaterOrEqual(t, g.Start, packed.DataStart, "no gap precedes the packed file")
	}
}

// Scenario 6: create arc.fba --primary 65536 --extended 0 --list-size 32640;
// load arc.fba applied to an existing disk correctly seeds catalog; check passes.
func TestCreateLoadCheckScenario(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "arc.fba")
	out, err := os.Create(archivePath)
	require.NoError(t, err)
	require.NoError(t, fbengine.CreateArchive(65536, 0, 32640, out))
	require.NoError(t, out.Close())

	s := formatFreshDisk(t)
	require.NoError(t, s.LoadArchive(archivePath, false))
	require.NoError(t, s.Save())

	require.NoError(t, s.Check())
}
