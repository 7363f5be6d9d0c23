package syslinux_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/syslinux"
)

// magicOffset is where buildV3Image places the LDLINUX_MAGIC descriptor:
// the first 4-aligned dword of the second sector past the signature and
// version digit.
const magicOffset = 0x210

// buildV3Image constructs a minimal synthetic ldlinux.bin v3 image of the
// given number of sectors: "SYSLINUX" signature and version digit at the
// documented offsets, and the LDLINUX_MAGIC descriptor at magicOffset.
func buildV3Image(sectors int) []byte {
	image := make([]byte, sectors*512)
	copy(image[0x202:], "SYSLINUX")
	image[0x20b] = '3'
	binary.LittleEndian.PutUint32(image[magicOffset:], syslinux.LdlinuxMagic)
	return image
}

func TestPatchV3SetsChecksumAndSectorField(t *testing.T) {
	image := buildV3Image(4)
	err := syslinux.Patch(image, 1000, 63)
	require.NoError(t, err)

	dwordCount := binary.LittleEndian.Uint16(image[magicOffset+8:])
	assert.EqualValues(t, (len(image)-512)>>2, dwordCount)

	secCount := binary.LittleEndian.Uint16(image[magicOffset+10:])
	assert.EqualValues(t, 0, secCount)

	// The stored checksum (at magicOffset+12) closes the sum: LDLINUX_MAGIC
	// minus every payload dword, the checksum included, is zero.
	checksum := syslinux.LdlinuxMagic
	for i := 0; i < int(dwordCount); i++ {
		checksum -= binary.LittleEndian.Uint32(image[0x200+i*4:])
	}
	assert.Equal(t, uint32(0), checksum)
}

func TestPatchRejectsMissingSignature(t *testing.T) {
	image := make([]byte, 4*512)
	err := syslinux.Patch(image, 1000, 63)
	assert.Error(t, err)
}

func TestPatchRejectsTooFewSectors(t *testing.T) {
	image := buildV3Image(2)
	err := syslinux.Patch(image, 1000, 63)
	assert.Error(t, err)
}

func TestPatchRejectsUnknownVersion(t *testing.T) {
	image := buildV3Image(4)
	image[0x20b] = '9'
	err := syslinux.Patch(image, 1000, 63)
	assert.Error(t, err)
}
