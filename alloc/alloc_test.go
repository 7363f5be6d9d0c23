package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/alloc"
	"github.com/fbtool/fbinst/catalog"
)

func TestFindSpaceEmptyCatalogPlacesAtListEnd(t *testing.T) {
	layout := alloc.Layout{ListEnd: 10, PriSize: 1000, TotalSize: 5000}
	res, err := alloc.Find(layout, nil, 510, false)
	require.NoError(t, err)
	assert.EqualValues(t, 10, res.Start)
	assert.Equal(t, 0, res.InsertOffset)
}

func TestFindSpaceFitsBeforeExistingFile(t *testing.T) {
	layout := alloc.Layout{ListEnd: 10, PriSize: 1000, TotalSize: 5000}
	entries := []catalog.Entry{
		{Offset: 0, Record: catalog.Record{DataStart: 20, DataSize: 1, Name: "A"}},
	}
	// Gap [10, 20) in primary units: 20-10=10 sectors, request 1 sector.
	res, err := alloc.Find(layout, entries, 510, false)
	require.NoError(t, err)
	assert.EqualValues(t, 10, res.Start)
}

func TestFindSpaceExtendedRequestSkipsPrimaryPortionOfStraddlingGap(t *testing.T) {
	layout := alloc.Layout{ListEnd: 10, PriSize: 12, TotalSize: 5000}
	entries := []catalog.Entry{
		{Offset: 0, Record: catalog.Record{DataStart: 20, DataSize: 1, Name: "A"}},
	}
	// Gap [10, 20) straddles the boundary at 12. Extended-only request
	// must use the extended portion [12, 20).
	res, err := alloc.Find(layout, entries, 512, true)
	require.NoError(t, err)
	assert.EqualValues(t, 12, res.Start)
}

func TestFindSpaceFailsWhenNothingFits(t *testing.T) {
	layout := alloc.Layout{ListEnd: 10, PriSize: 20, TotalSize: 11}
	_, err := alloc.Find(layout, nil, 1_000_000, false)
	assert.Error(t, err)
}

func TestFreeSpaceArithmetic(t *testing.T) {
	layout := alloc.Layout{ListEnd: 10, PriSize: 100, TotalSize: 1100}
	entries := []catalog.Entry{
		{Record: catalog.Record{DataStart: 10, DataSize: 510}},  // 1 primary sector
		{Record: catalog.Record{DataStart: 100, DataSize: 512}}, // 1 extended sector
	}
	priFree, extFree := alloc.FreeSpace(layout, entries)
	assert.EqualValues(t, (100-10-1)*510, priFree)
	assert.EqualValues(t, (1100-100-1)*512, extFree)
}

func TestUsageBitmapMarksReservedAndFileSectors(t *testing.T) {
	layout := alloc.Layout{ListEnd: 5, PriSize: 100, TotalSize: 200}
	entries := []catalog.Entry{
		{Record: catalog.Record{DataStart: 50, DataSize: 510}},
	}
	bm := alloc.UsageBitmap(layout, entries)
	assert.True(t, bm.Get(0))
	assert.True(t, bm.Get(4))
	assert.False(t, bm.Get(10))
	assert.True(t, bm.Get(50))
}
