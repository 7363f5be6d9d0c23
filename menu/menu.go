// Package menu compiles and decodes the fb boot menu script: a sequence of
// tagged, size-prefixed records (menu entries, free text, timeout/default
// selection, and color) packed into a single blob the same way the file
// catalog packs its own records, terminated by a zero size byte.
package menu

import (
	"fmt"
	"strconv"
	"strings"

	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/noxer/bytewriter"
)

// Record type tags, stored in the byte immediately after the size byte.
const (
	TypeMenu    = 1
	TypeText    = 2
	TypeTimeout = 3
	TypeDefault = 4
	TypeColor   = 5
)

// System types a "menu" entry can boot.
const (
	SysGrldr    = 1
	SysSyslinux = 2
	SysMsdos    = 3
	SysFreedos  = 4
	SysChain    = 5
	SysLinux    = 6
)

// ColorNormal is the sentinel stored by `color normal`, matching the
// conventional BIOS text attribute for light-gray-on-black.
const ColorNormal = 0x07

var colorNames = []string{
	"black", "blue", "green", "cyan", "red", "magenta", "brown", "light-gray",
	"dark-gray", "light-blue", "light-green", "light-cyan", "light-red",
	"light-magenta", "yellow", "white",
}

func colorIndex(name string) (int, bool) {
	for i, n := range colorNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// ParseColor turns a color spec ("normal", "white", or "white/blue") into
// its packed byte value: low nibble foreground, high nibble background.
func ParseColor(spec string) (byte, error) {
	if spec == "normal" {
		return ColorNormal, nil
	}
	fgName, bgName, hasBg := strings.Cut(spec, "/")
	fg, ok := colorIndex(fgName)
	if !ok {
		return 0, fberrors.InvalidMenu.WithMessage(fmt.Sprintf("invalid foreground color %q", fgName))
	}
	bg := 0
	if hasBg {
		bg, ok = colorIndex(bgName)
		if !ok {
			return 0, fberrors.InvalidMenu.WithMessage(fmt.Sprintf("invalid background color %q", bgName))
		}
	}
	return byte(bg<<4 | fg), nil
}

// ColorName renders a packed color byte back to its spec string.
func ColorName(c byte) string {
	if c == ColorNormal {
		return "normal"
	}
	fg, bg := int(c&0xf), int(c>>4)
	if bg == 0 {
		return colorNames[fg]
	}
	return colorNames[fg] + "/" + colorNames[bg]
}

// Item is one decoded menu script record, in the union-of-all-shapes form
// the decoder produces; Type says which fields are meaningful.
type Item struct {
	Type     byte
	Key      uint16 // TypeMenu
	SysType  byte   // TypeMenu
	Name     string // TypeMenu: boot target path
	Arg1     string // TypeMenu + SysLinux: kernel args
	Arg2     string // TypeMenu + SysLinux: initrd
	Text     string // TypeText
	Newline  bool   // TypeText
	Timeout  byte   // TypeTimeout / TypeDefault / TypeColor (as a color byte)
}

// Compile builds a menu script blob from items, using an offset-indexed
// growing buffer the way the original tool appends each item at the
// current cursor position.
func Compile(items []Item) ([]byte, error) {
	w := bytewriter.New()
	offset := int64(0)

	write := func(p []byte) error {
		if _, err := w.WriteAt(p, offset); err != nil {
			return fberrors.InvalidMenu.WrapError(err)
		}
		offset += int64(len(p))
		return nil
	}

	for _, item := range items {
		var body []byte
		switch item.Type {
		case TypeMenu:
			body = encodeMenuItem(item)
		case TypeText:
			body = encodeTextItem(item)
		case TypeTimeout, TypeDefault, TypeColor:
			body = []byte{item.Timeout}
		default:
			return nil, fberrors.InvalidMenu.WithMessage("unknown menu item type")
		}

		total := 2 + len(body)
		if total > 255 {
			return nil, fberrors.InvalidMenu.WithMessage("menu item too long")
		}
		header := []byte{byte(total - 2), item.Type}
		if err := write(header); err != nil {
			return nil, err
		}
		if err := write(body); err != nil {
			return nil, err
		}
	}

	if err := write([]byte{0}); err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

func encodeMenuItem(item Item) []byte {
	var buf []byte
	buf = append(buf, byte(item.Key), byte(item.Key>>8), item.SysType)
	buf = append(buf, []byte(item.Name)...)
	buf = append(buf, 0)
	if item.SysType == SysLinux {
		buf = append(buf, []byte(item.Arg1)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(item.Arg2)...)
		buf = append(buf, 0)
	}
	return buf
}

func encodeTextItem(item Item) []byte {
	text := item.Text
	if item.Newline {
		text += "\r\n"
	}
	return append([]byte(text), 0)
}

// Decode walks a compiled menu blob back into Items, matching cat_menu's
// switch over record type.
func Decode(blob []byte) ([]Item, error) {
	var items []Item
	ofs := 0
	for ofs < len(blob) && blob[ofs] != 0 {
		size := int(blob[ofs])
		typ := blob[ofs+1]
		body := blob[ofs+2 : ofs+2+size]

		switch typ {
		case TypeMenu:
			if len(body) < 3 {
				return nil, fberrors.InvalidMenu.WithMessage("truncated menu item")
			}
			key := uint16(body[0]) | uint16(body[1])<<8
			sysType := body[2]
			fields := splitNulTerminated(body[3:])
			item := Item{Type: TypeMenu, Key: key, SysType: sysType}
			if len(fields) > 0 {
				item.Name = fields[0]
			}
			if sysType == SysLinux {
				if len(fields) > 1 {
					item.Arg1 = fields[1]
				}
				if len(fields) > 2 {
					item.Arg2 = fields[2]
				}
			}
			items = append(items, item)
		case TypeText:
			text := string(body)
			text = strings.TrimSuffix(text, "\x00")
			newline := strings.HasSuffix(text, "\r\n")
			items = append(items, Item{
				Type:    TypeText,
				Text:    strings.TrimSuffix(text, "\r\n"),
				Newline: newline,
			})
		case TypeTimeout, TypeDefault, TypeColor:
			if len(body) < 1 {
				return nil, fberrors.InvalidMenu.WithMessage("truncated timeout item")
			}
			items = append(items, Item{Type: typ, Timeout: body[0]})
		default:
			return nil, fberrors.InvalidMenu.WithMessage(
				fmt.Sprintf("invalid menu item type %d", typ))
		}

		ofs += size + 2
	}
	return items, nil
}

// splitNulTerminated splits a run of NUL-terminated strings, discarding the
// final terminator, the way fbm_menu's name/args fields are packed.
func splitNulTerminated(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	return out
}

// ParseTimeout parses a numeric timeout/default argument the same way
// strtoul(argv[0], 0, 0) would: base-prefixed or plain decimal.
func ParseTimeout(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fberrors.InvalidMenu.WrapError(err)
	}
	return byte(v), nil
}

// scanCodes maps a hotkey name to its PC XT (scan code set 1) make code,
// the form get_keycode's result takes on the wire. The source this package
// is otherwise grounded on calls get_keycode but never defines it, so this
// table is reconstructed directly from the standard set 1 layout rather
// than recovered from anywhere in that source.
var scanCodes = map[string]uint16{
	"a": 0x1e, "b": 0x30, "c": 0x2e, "d": 0x20, "e": 0x12, "f": 0x21,
	"g": 0x22, "h": 0x23, "i": 0x17, "j": 0x24, "k": 0x25, "l": 0x26,
	"m": 0x32, "n": 0x31, "o": 0x18, "p": 0x19, "q": 0x10, "r": 0x13,
	"s": 0x1f, "t": 0x14, "u": 0x16, "v": 0x2f, "w": 0x11, "x": 0x2d,
	"y": 0x15, "z": 0x2c,
	"0": 0x0b, "1": 0x02, "2": 0x03, "3": 0x04, "4": 0x05, "5": 0x06,
	"6": 0x07, "7": 0x08, "8": 0x09, "9": 0x0a,
	"f1": 0x3b, "f2": 0x3c, "f3": 0x3d, "f4": 0x3e, "f5": 0x3f,
	"f6": 0x40, "f7": 0x41, "f8": 0x42, "f9": 0x43, "f10": 0x44,
	"f11": 0x57, "f12": 0x58,
}

// ParseKey turns a hotkey name ("a".."z", "0".."9", "f1".."f12") into its
// scan code, matching get_keycode's return value (and its "invalid hotkey"
// rejection of anything it doesn't recognize).
func ParseKey(name string) (uint16, error) {
	code, ok := scanCodes[strings.ToLower(name)]
	if !ok {
		return 0, fberrors.InvalidMenu.WithMessage(fmt.Sprintf("invalid hotkey %q", name))
	}
	return code, nil
}
