package archive_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/archive"
	"github.com/fbtool/fbinst/catalog"
	"github.com/fbtool/fbinst/device"
	"github.com/fbtool/fbinst/filedata"
)

func TestCreateProducesHeaderAndBlankCatalog(t *testing.T) {
	buf := archive.Create(15, 100, 4)
	assert.Len(t, buf, (1+4)*512)

	header, records, err := readerAtOf(buf, t)
	require.NoError(t, err)
	assert.Equal(t, uint16(15), header.PriSize)
	assert.EqualValues(t, 100, header.ExtSize)
	assert.Equal(t, uint16(4), header.ListSize)
	assert.Empty(t, records)
}

func readerAtOf(buf []byte, t *testing.T) (archive.Header, []catalog.Record, error) {
	t.Helper()
	return archive.Open(bytes.NewReader(buf))
}

func TestSaveOpenRoundTrip(t *testing.T) {
	devBuf := make([]byte, 40*512)
	dev, err := device.NewMemoryDevice(devBuf)
	require.NoError(t, err)

	const priSize = 20
	payloadA := bytes.Repeat([]byte{0x11}, 1000)
	payloadB := bytes.Repeat([]byte{0x22}, 600)

	require.NoError(t, filedata.Save(dev, priSize, 5, uint32(len(payloadA)), bytes.NewReader(payloadA)))
	require.NoError(t, filedata.Save(dev, priSize, 25, uint32(len(payloadB)), bytes.NewReader(payloadB)))

	records := []catalog.Record{
		{Name: "first.bin", DataStart: 5, DataSize: uint32(len(payloadA))},
		{Name: "second.bin", DataStart: 25, DataSize: uint32(len(payloadB)), Flag: catalog.FlagExtended},
	}

	var out bytes.Buffer
	require.NoError(t, archive.Save(dev, priSize, 50, records, 2048, &out))

	header, gotRecords, err := archive.Open(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.EqualValues(t, priSize, header.PriSize)
	assert.EqualValues(t, 50, header.ExtSize)
	require.Len(t, gotRecords, 2)
	assert.Equal(t, "first.bin", gotRecords[0].Name)
	assert.Equal(t, "second.bin", gotRecords[1].Name)
	assert.True(t, gotRecords[1].IsExtended())

	listSectors := int(header.ListSize)
	expectedStart := uint32(1 + listSectors)
	assert.Equal(t, expectedStart, gotRecords[0].DataStart)

	section := io.NewSectionReader(bytes.NewReader(out.Bytes()), int64(gotRecords[0].DataStart)*512, int64(len(payloadA)))
	got := make([]byte, len(payloadA))
	_, err = io.ReadFull(section, got)
	require.NoError(t, err)
	assert.Equal(t, payloadA, got)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 512)
	_, _, err := archive.Open(bytes.NewReader(buf))
	assert.Error(t, err)
}

func TestImportPlacesRecordsViaAllocator(t *testing.T) {
	srcBuf := make([]byte, 40*512)
	srcDev, err := device.NewMemoryDevice(srcBuf)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x33}, 800)
	const priSize = 20
	require.NoError(t, filedata.Save(srcDev, priSize, 5, uint32(len(payload)), bytes.NewReader(payload)))

	records := []catalog.Record{{Name: "only.bin", DataStart: 5, DataSize: uint32(len(payload))}}
	var archived bytes.Buffer
	require.NoError(t, archive.Save(srcDev, priSize, 0, records, 2048, &archived))

	dstBuf := make([]byte, 40*512)
	dstDev, err := device.NewMemoryDevice(dstBuf)
	require.NoError(t, err)

	// Import reads each payload at the record's position inside the
	// archive, so it is given the records as the archive lists them.
	_, archivedRecords, err := archive.Open(bytes.NewReader(archived.Bytes()))
	require.NoError(t, err)

	const placedAt = 8
	placed, err := archive.Import(bytes.NewReader(archived.Bytes()), dstDev, priSize, archivedRecords, func(rec catalog.Record) (uint32, error) {
		return placedAt, nil
	})
	require.NoError(t, err)
	require.Len(t, placed, 1)
	assert.Equal(t, uint32(placedAt), placed[0].DataStart)

	var out bytes.Buffer
	require.NoError(t, filedata.Load(dstDev, priSize, placedAt, uint32(len(payload)), &out))
	assert.Equal(t, payload, out.Bytes())
}
