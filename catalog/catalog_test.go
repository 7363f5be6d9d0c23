package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/catalog"
)

func TestInsertFindDelete(t *testing.T) {
	l := catalog.Empty(4096)

	require.NoError(t, l.InsertAt(0, catalog.Record{
		DataStart: 100, DataSize: 2048, DataTime: 1700000000, Name: "BOOT.BIN",
	}))

	rec, ok := l.Find("boot.bin")
	require.True(t, ok, "lookup is case-insensitive")
	assert.EqualValues(t, 100, rec.DataStart)
	assert.EqualValues(t, 2048, rec.DataSize)

	require.True(t, l.Delete("BOOT.BIN"))
	_, ok = l.Find("BOOT.BIN")
	assert.False(t, ok)
}

func TestInsertAtReplacesExisting(t *testing.T) {
	l := catalog.Empty(4096)
	require.NoError(t, l.InsertAt(0, catalog.Record{DataStart: 1, DataSize: 1, Name: "A"}))
	require.NoError(t, l.InsertAt(0, catalog.Record{DataStart: 2, DataSize: 2, Name: "A"}))

	recs := l.Records()
	require.Len(t, recs, 1)
	assert.EqualValues(t, 2, recs[0].DataStart)
}

func TestInsertAtMiddlePreservesOrder(t *testing.T) {
	l := catalog.Empty(4096)
	require.NoError(t, l.InsertAt(0, catalog.Record{DataStart: 10, DataSize: 1, Name: "FIRST"}))
	firstLen := l.Tail()
	require.NoError(t, l.InsertAt(firstLen, catalog.Record{DataStart: 20, DataSize: 1, Name: "THIRD"}))

	// Insert a record between the two existing ones.
	require.NoError(t, l.InsertAt(firstLen, catalog.Record{DataStart: 15, DataSize: 1, Name: "SECOND"}))

	recs := l.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "FIRST", recs[0].Name)
	assert.Equal(t, "SECOND", recs[1].Name)
	assert.Equal(t, "THIRD", recs[2].Name)
}

func TestInsertRejectsTooLongName(t *testing.T) {
	l := catalog.Empty(4096)
	longName := make([]byte, 250)
	for i := range longName {
		longName[i] = 'x'
	}
	err := l.InsertAt(0, catalog.Record{Name: string(longName)})
	assert.Error(t, err)
}

func TestInsertRejectsNoSpace(t *testing.T) {
	l := catalog.Empty(16)
	err := l.InsertAt(0, catalog.Record{Name: "SOMEVERYLONGNAME"})
	assert.Error(t, err)
}

func TestValidateCleanList(t *testing.T) {
	l := catalog.Empty(4096)
	require.NoError(t, l.InsertAt(0, catalog.Record{Name: "A"}))
	assert.NoError(t, l.Validate())
}

func TestAddMarkRemoveMarkRoundTrip(t *testing.T) {
	payload := make([]byte, 1020) // 2 sectors worth of 510-byte payload
	for i := range payload {
		payload[i] = byte(i)
	}

	watermarked := catalog.AddMark(payload, 2, 5)
	assert.Len(t, watermarked, 1024)

	assert.EqualValues(t, 5, uint16(watermarked[510])|uint16(watermarked[511])<<8)
	assert.EqualValues(t, 6, uint16(watermarked[1022])|uint16(watermarked[1023])<<8)

	stripped := catalog.RemoveMark(watermarked, 2)
	assert.Equal(t, payload, stripped)
}

func TestRecordFlags(t *testing.T) {
	rec := catalog.Record{Flag: catalog.FlagExtended | catalog.FlagSyslinux}
	assert.True(t, rec.IsExtended())
	assert.True(t, rec.IsSyslinux())
}
