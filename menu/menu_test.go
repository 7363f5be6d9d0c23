package menu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbtool/fbinst/menu"
)

func TestCompileDecodeRoundTripMenuItem(t *testing.T) {
	items := []menu.Item{
		{Type: menu.TypeMenu, Key: 0x1c0d, SysType: menu.SysGrldr, Name: "/grldr"},
	}
	blob, err := menu.Compile(items)
	require.NoError(t, err)

	got, err := menu.Decode(blob)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, items[0], got[0])
}

func TestCompileDecodeRoundTripLinuxItemWithArgs(t *testing.T) {
	items := []menu.Item{
		{
			Type:    menu.TypeMenu,
			Key:     0x3124,
			SysType: menu.SysLinux,
			Name:    "/vmlinuz",
			Arg1:    "root=/dev/sda1 ro",
			Arg2:    "/initrd.img",
		},
	}
	blob, err := menu.Compile(items)
	require.NoError(t, err)

	got, err := menu.Decode(blob)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, items[0], got[0])
}

func TestCompileDecodeRoundTripTextItem(t *testing.T) {
	items := []menu.Item{
		{Type: menu.TypeText, Text: "Select a boot option", Newline: true},
		{Type: menu.TypeText, Text: "no newline here", Newline: false},
	}
	blob, err := menu.Compile(items)
	require.NoError(t, err)

	got, err := menu.Decode(blob)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, items, got)
}

func TestCompileDecodeRoundTripTimeoutDefaultColor(t *testing.T) {
	items := []menu.Item{
		{Type: menu.TypeTimeout, Timeout: 30},
		{Type: menu.TypeDefault, Timeout: 2},
		{Type: menu.TypeColor, Timeout: menu.ColorNormal},
	}
	blob, err := menu.Compile(items)
	require.NoError(t, err)

	got, err := menu.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestCompileTerminatesWithZeroByte(t *testing.T) {
	blob, err := menu.Compile([]menu.Item{{Type: menu.TypeTimeout, Timeout: 5}})
	require.NoError(t, err)
	assert.Equal(t, byte(0), blob[len(blob)-1])
}

func TestCompileRejectsUnknownType(t *testing.T) {
	_, err := menu.Compile([]menu.Item{{Type: 99}})
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := menu.Decode([]byte{1, 99, 0xaa, 0})
	assert.Error(t, err)
}

func TestParseColorNormal(t *testing.T) {
	c, err := menu.ParseColor("normal")
	require.NoError(t, err)
	assert.Equal(t, byte(menu.ColorNormal), c)
	assert.Equal(t, "normal", menu.ColorName(c))
}

func TestParseColorForegroundOnly(t *testing.T) {
	c, err := menu.ParseColor("white")
	require.NoError(t, err)
	assert.Equal(t, byte(0x0f), c)
	assert.Equal(t, "white", menu.ColorName(c))
}

func TestParseColorForegroundAndBackground(t *testing.T) {
	c, err := menu.ParseColor("yellow/blue")
	require.NoError(t, err)
	assert.Equal(t, byte(0x1e), c)
	assert.Equal(t, "yellow/blue", menu.ColorName(c))
}

func TestParseColorRejectsUnknownName(t *testing.T) {
	_, err := menu.ParseColor("magenta/puce")
	assert.Error(t, err)
}

func TestParseTimeoutDecimalAndHex(t *testing.T) {
	v, err := menu.ParseTimeout("30")
	require.NoError(t, err)
	assert.EqualValues(t, 30, v)

	v, err = menu.ParseTimeout("0x1e")
	require.NoError(t, err)
	assert.EqualValues(t, 30, v)
}

func TestParseTimeoutRejectsOutOfRange(t *testing.T) {
	_, err := menu.ParseTimeout("999")
	assert.Error(t, err)
}
