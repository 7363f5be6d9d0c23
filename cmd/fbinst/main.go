// Command fbinst manages fb-formatted bootable USB images: formatting,
// syncing the MBR boot ladder, and maintaining the file catalog, matching
// fbinst.c's command dispatch table.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fbtool/fbinst/device"
	"github.com/fbtool/fbinst/fbengine"
	"github.com/fbtool/fbinst/menu"
)

func main() {
	app := &cli.App{
		Name:  "fbinst",
		Usage: "format and manage fb bootable USB disk images",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "use the debug-build boot loader instead of the release one"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print sector progress while format writes the FAT tables"},
		},
		Commands: []*cli.Command{
			formatCommand,
			restoreCommand,
			updateCommand,
			syncCommand,
			infoCommand,
			clearCommand,
			addCommand,
			addMenuCommand,
			resizeCommand,
			copyCommand,
			moveCommand,
			exportCommand,
			removeCommand,
			catCommand,
			catMenuCommand,
			packCommand,
			checkCommand,
			saveCommand,
			loadCommand,
			createCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fbinst: error: %s\n", err)
		os.Exit(1)
	}
}

// mbrTemplate returns the compiled-in release or debug boot loader blob,
// matching main's --debug handling (fb_mbr_data = fb_mbr_dbg).
func mbrTemplate(debug bool) fbengine.MBRTemplate {
	sector0Bytes, bootCode := releaseSector0, releaseBootCode
	if debug {
		sector0Bytes, bootCode = debugSector0, debugBootCode
	}
	var tmpl fbengine.MBRTemplate
	copy(tmpl.Sector0[:], sector0Bytes)
	tmpl.BootCode = bootCode
	return tmpl
}

// openDevice opens path as a block device for commands that operate on an
// existing image or disk.
func openDevice(path string, writable bool) (device.BlockDevice, error) {
	dev, err := device.OpenFile(path, writable)
	if err != nil {
		return nil, err
	}
	if writable {
		if err := dev.Lock(); err != nil {
			dev.Close()
			return nil, err
		}
	}
	return dev, nil
}

// withState opens path, loads its header/catalog via fbengine.Open, runs fn,
// and on success flushes the result back with Save, matching every
// command's common read_header/.../write_header shape.
func withState(c *cli.Context, path string, allowArchive bool, fn func(*fbengine.State) error) error {
	dev, err := openDevice(path, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	s, err := fbengine.Open(dev, allowArchive)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	return s.Save()
}

func sizeFlag(name string, aliases ...string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Aliases: aliases, Usage: "size in bytes (k/m/g suffix accepted)"}
}

// parseSize parses a size_t-ish argument with an optional k/m/g suffix,
// matching the original's own get_size helper.
func parseSize(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return uint32(v * mult), nil
}

func mustSize(c *cli.Context, name string) (uint32, error) {
	return parseSize(c.String(name))
}

var formatCommand = &cli.Command{
	Name:      "format",
	Usage:     "create a fresh fb container or raw FAT partition",
	ArgsUsage: "IMAGE_FILE",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}},
		&cli.BoolFlag{Name: "raw", Aliases: []string{"r"}},
		&cli.BoolFlag{Name: "zip", Aliases: []string{"z"}},
		&cli.BoolFlag{Name: "align", Aliases: []string{"a"}},
		&cli.BoolFlag{Name: "fat16"},
		&cli.BoolFlag{Name: "fat32"},
		sizeFlag("primary", "p"),
		sizeFlag("extended", "e"),
		sizeFlag("list-size", "l"),
		&cli.Uint64Flag{Name: "base", Aliases: []string{"b"}},
		sizeFlag("part-size"),
		&cli.Uint64Flag{Name: "nalign", Aliases: []string{"n"}},
		&cli.Uint64Flag{Name: "unit-size", Aliases: []string{"u"}},
		&cli.Uint64Flag{Name: "max-sectors"},
		&cli.BoolFlag{Name: "chs"},
		&cli.StringFlag{Name: "archive"},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("format", "IMAGE_FILE")
		}

		pri, err := mustSize(c, "primary")
		if err != nil {
			return err
		}
		ext, err := mustSize(c, "extended")
		if err != nil {
			return err
		}
		list, err := mustSize(c, "list-size")
		if err != nil {
			return err
		}
		partSize, err := mustSize(c, "part-size")
		if err != nil {
			return err
		}

		opts := fbengine.FormatOptions{
			Force:         c.Bool("force") || c.Bool("raw"),
			Raw:           c.Bool("raw"),
			ZipDrive:      c.Bool("zip"),
			Align:         c.Bool("align"),
			ForceFAT16:    c.Bool("fat16"),
			ForceFAT32:    c.Bool("fat32"),
			PriSizeBytes:  pri,
			ExtSizeBytes:  ext,
			ListSizeBytes: list,
			Base:          uint32(c.Uint64("base")),
			PartSize:      partSize,
			NandAlignMask: uint32(c.Uint64("nalign")),
			UnitSize:      byte(c.Uint64("unit-size")),
			MaxSectors:    byte(c.Uint64("max-sectors")),
			CHS:           c.Bool("chs"),
			ArchivePath:   c.String("archive"),
		}

		dev, err := openDevice(path, true)
		if err != nil {
			return err
		}
		defer dev.Close()

		return fbengine.Format(dev, mbrTemplate(c.Bool("debug")), opts, progressFunc(c))
	},
}

var restoreCommand = &cli.Command{
	Name:      "restore",
	Usage:     "rebuild sector 0 from a surviving MBR ladder copy",
	ArgsUsage: "IMAGE_FILE",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "max-scan", Value: 64, Usage: "sectors to scan for a surviving ladder copy"},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("restore", "IMAGE_FILE")
		}
		dev, err := openDevice(path, true)
		if err != nil {
			return err
		}
		defer dev.Close()
		return fbengine.Restore(dev, c.Int("max-scan"))
	},
}

var updateCommand = &cli.Command{
	Name:      "update",
	Usage:     "install a new boot loader over an already-formatted disk",
	ArgsUsage: "IMAGE_FILE",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("update", "IMAGE_FILE")
		}
		return withState(c, path, false, func(s *fbengine.State) error {
			return s.Update(mbrTemplate(c.Bool("debug")))
		})
	},
}

var syncCommand = &cli.Command{
	Name:      "sync",
	Usage:     "resync the MBR boot ladder's BPB region and header fields",
	ArgsUsage: "IMAGE_FILE",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "copy-bpb"},
		&cli.BoolFlag{Name: "reset-bpb"},
		&cli.BoolFlag{Name: "clear-bpb"},
		&cli.IntFlag{Name: "bpb-size"},
		&cli.BoolFlag{Name: "zip", Aliases: []string{"z"}},
		&cli.Uint64Flag{Name: "max-sectors"},
		&cli.BoolFlag{Name: "chs"},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("sync", "IMAGE_FILE")
		}

		mode := fbengine.BPBUnchanged
		switch {
		case c.Bool("copy-bpb"):
			mode = fbengine.BPBCopy
		case c.Bool("reset-bpb"):
			mode = fbengine.BPBReset
		case c.Bool("clear-bpb"):
			mode = fbengine.BPBClear
		}

		return withState(c, path, false, func(s *fbengine.State) error {
			return s.Sync(fbengine.SyncOptions{
				Mode:       mode,
				BPBSize:    c.Int("bpb-size"),
				ZipDrive:   c.Bool("zip"),
				MaxSectors: byte(c.Uint64("max-sectors")),
				CHS:        c.Bool("chs"),
			})
		})
	},
}

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "print the disk or archive's header, catalog, and free space",
	ArgsUsage: "IMAGE_FILE",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("info", "IMAGE_FILE")
		}
		dev, err := openDevice(path, false)
		if err != nil {
			return err
		}
		defer dev.Close()

		s, err := fbengine.Open(dev, true)
		if err != nil {
			return err
		}
		fmt.Print(s.Info().String())
		return nil
	},
}

var clearCommand = &cli.Command{
	Name:      "clear",
	Usage:     "empty the whole file catalog",
	ArgsUsage: "IMAGE_FILE",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("clear", "IMAGE_FILE")
		}
		return withState(c, path, true, func(s *fbengine.State) error {
			s.Clear()
			return nil
		})
	},
}

var addCommand = &cli.Command{
	Name:      "add",
	Usage:     "add a local file to the catalog",
	ArgsUsage: "IMAGE_FILE LOCAL_FILE [CATALOG_NAME]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "syslinux", Usage: "patch the file as an ldlinux.bin boot loader image"},
		&cli.BoolFlag{Name: "extended", Aliases: []string{"e"}},
	},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("add", "IMAGE_FILE LOCAL_FILE [CATALOG_NAME]")
		}
		path, localPath := args.Get(0), args.Get(1)
		name := args.Get(2)
		if name == "" {
			name = localPath
		}

		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}

		return withState(c, path, false, func(s *fbengine.State) error {
			modTime := uint32(fi.ModTime().Unix())
			if c.Bool("syslinux") {
				_, err := s.AddSyslinux(name, f, uint32(fi.Size()), modTime)
				return err
			}
			_, err := s.Add(name, f, uint32(fi.Size()), modTime, c.Bool("extended"))
			return err
		})
	},
}

var addMenuCommand = &cli.Command{
	Name:      "add-menu",
	Usage:     "append boot menu entries to a catalog file",
	ArgsUsage: "IMAGE_FILE MENU_FILE LINE...",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "append", Usage: "keep the menu file's existing entries"},
	},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("add-menu", "IMAGE_FILE MENU_FILE LINE...")
		}
		path, name := args.Get(0), args.Get(1)

		var items []menu.Item
		for _, line := range args.Slice()[2:] {
			item, err := parseMenuLine(line)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

		return withState(c, path, false, func(s *fbengine.State) error {
			return s.AddMenu(name, items, c.Bool("append"))
		})
	},
}

// parseMenuLine decodes one add-menu argument, a comma-separated record
// shaped like one of:
//
//	menu,KEY,TYPE,TARGET[,ARG1[,ARG2]]
//	text,TEXT[,nl]
//	timeout,N / default,N / color,SPEC
//
// matching add_item_menu/add_menu_line's per-record argument shapes.
func parseMenuLine(line string) (menu.Item, error) {
	fields := strings.Split(line, ",")
	switch fields[0] {
	case "menu":
		if len(fields) < 4 {
			return menu.Item{}, fmt.Errorf("menu line needs key,systype,target: %q", line)
		}
		key, err := menu.ParseKey(fields[1])
		if err != nil {
			return menu.Item{}, err
		}
		sysType, err := parseSysType(fields[2])
		if err != nil {
			return menu.Item{}, err
		}
		item := menu.Item{Type: menu.TypeMenu, Key: key, SysType: sysType, Name: fields[3]}
		if len(fields) > 4 {
			item.Arg1 = fields[4]
		}
		if len(fields) > 5 {
			item.Arg2 = fields[5]
		}
		return item, nil
	case "text":
		if len(fields) < 2 {
			return menu.Item{}, fmt.Errorf("text line needs text: %q", line)
		}
		newline := len(fields) > 2 && fields[2] == "nl"
		return menu.Item{Type: menu.TypeText, Text: fields[1], Newline: newline}, nil
	case "timeout", "default":
		if len(fields) < 2 {
			return menu.Item{}, fmt.Errorf("%s line needs a value: %q", fields[0], line)
		}
		v, err := menu.ParseTimeout(fields[1])
		if err != nil {
			return menu.Item{}, err
		}
		typ := byte(menu.TypeTimeout)
		if fields[0] == "default" {
			typ = menu.TypeDefault
		}
		return menu.Item{Type: typ, Timeout: v}, nil
	case "color":
		if len(fields) < 2 {
			return menu.Item{}, fmt.Errorf("color line needs a spec: %q", line)
		}
		v, err := menu.ParseColor(fields[1])
		if err != nil {
			return menu.Item{}, err
		}
		return menu.Item{Type: menu.TypeColor, Timeout: v}, nil
	default:
		return menu.Item{}, fmt.Errorf("unknown menu line type %q", fields[0])
	}
}

var sysTypeNames = map[string]byte{
	"grldr":    menu.SysGrldr,
	"syslinux": menu.SysSyslinux,
	"msdos":    menu.SysMsdos,
	"freedos":  menu.SysFreedos,
	"chain":    menu.SysChain,
	"linux":    menu.SysLinux,
}

func parseSysType(name string) (byte, error) {
	t, ok := sysTypeNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown system type %q", name)
	}
	return t, nil
}

var resizeCommand = &cli.Command{
	Name:      "resize",
	Usage:     "grow or shrink a catalog file in place",
	ArgsUsage: "IMAGE_FILE NAME NEW_SIZE",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "fill", Usage: "fill byte for newly uncovered space"},
	},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 3 {
			return fberrorsUsage("resize", "IMAGE_FILE NAME NEW_SIZE")
		}
		newSize, err := parseSize(args.Get(2))
		if err != nil {
			return err
		}
		return withState(c, args.Get(0), false, func(s *fbengine.State) error {
			return s.Resize(args.Get(1), newSize, byte(c.Uint64("fill")), uint32(time.Now().Unix()))
		})
	},
}

var copyCommand = &cli.Command{
	Name:      "copy",
	Usage:     "duplicate a catalog file under a new name",
	ArgsUsage: "IMAGE_FILE SRC_NAME DST_NAME",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 3 {
			return fberrorsUsage("copy", "IMAGE_FILE SRC_NAME DST_NAME")
		}
		return withState(c, args.Get(0), false, func(s *fbengine.State) error {
			return s.Copy(args.Get(1), args.Get(2))
		})
	},
}

var moveCommand = &cli.Command{
	Name:      "move",
	Usage:     "rename a catalog file in place",
	ArgsUsage: "IMAGE_FILE SRC_NAME DST_NAME",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 3 {
			return fberrorsUsage("move", "IMAGE_FILE SRC_NAME DST_NAME")
		}
		return withState(c, args.Get(0), false, func(s *fbengine.State) error {
			return s.Move(args.Get(1), args.Get(2))
		})
	},
}

var exportCommand = &cli.Command{
	Name:      "export",
	Usage:     "copy a catalog file's data out to a local file",
	ArgsUsage: "IMAGE_FILE NAME LOCAL_FILE",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 3 {
			return fberrorsUsage("export", "IMAGE_FILE NAME LOCAL_FILE")
		}
		dev, err := openDevice(args.Get(0), false)
		if err != nil {
			return err
		}
		defer dev.Close()

		s, err := fbengine.Open(dev, true)
		if err != nil {
			return err
		}

		out, err := os.Create(args.Get(2))
		if err != nil {
			return err
		}
		defer out.Close()

		return s.Export(args.Get(1), out)
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "delete a catalog entry",
	ArgsUsage: "IMAGE_FILE NAME",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("remove", "IMAGE_FILE NAME")
		}
		return withState(c, args.Get(0), false, func(s *fbengine.State) error {
			return s.Remove(args.Get(1))
		})
	},
}

var catCommand = &cli.Command{
	Name:      "cat",
	Usage:     "print a catalog file's content to stdout",
	ArgsUsage: "IMAGE_FILE NAME",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("cat", "IMAGE_FILE NAME")
		}
		dev, err := openDevice(args.Get(0), false)
		if err != nil {
			return err
		}
		defer dev.Close()

		s, err := fbengine.Open(dev, true)
		if err != nil {
			return err
		}
		data, err := s.Cat(args.Get(1))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var catMenuCommand = &cli.Command{
	Name:      "cat-menu",
	Usage:     "decode a boot menu file and print its entries",
	ArgsUsage: "IMAGE_FILE NAME",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("cat-menu", "IMAGE_FILE NAME")
		}
		dev, err := openDevice(args.Get(0), false)
		if err != nil {
			return err
		}
		defer dev.Close()

		s, err := fbengine.Open(dev, true)
		if err != nil {
			return err
		}
		items, err := s.CatMenu(args.Get(1))
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Println(formatMenuItem(item))
		}
		return nil
	},
}

func formatMenuItem(item menu.Item) string {
	switch item.Type {
	case menu.TypeMenu:
		return fmt.Sprintf("menu %q sys=%d key=0x%x args=%q,%q", item.Name, item.SysType, item.Key, item.Arg1, item.Arg2)
	case menu.TypeText:
		return fmt.Sprintf("text %q newline=%v", item.Text, item.Newline)
	case menu.TypeTimeout:
		return fmt.Sprintf("timeout %d", item.Timeout)
	case menu.TypeDefault:
		return fmt.Sprintf("default %d", item.Timeout)
	case menu.TypeColor:
		return fmt.Sprintf("color %s", menu.ColorName(item.Timeout))
	default:
		return fmt.Sprintf("unknown type %d", item.Type)
	}
}

var packCommand = &cli.Command{
	Name:      "pack",
	Usage:     "slide every file toward the front of its region, closing gaps",
	ArgsUsage: "IMAGE_FILE",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("pack", "IMAGE_FILE")
		}
		return withState(c, path, false, func(s *fbengine.State) error {
			return s.Pack()
		})
	},
}

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "verify the primary area's sector watermarks",
	ArgsUsage: "IMAGE_FILE",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("check", "IMAGE_FILE")
		}
		dev, err := openDevice(path, false)
		if err != nil {
			return err
		}
		defer dev.Close()

		s, err := fbengine.Open(dev, true)
		if err != nil {
			return err
		}
		return s.Check()
	},
}

var saveCommand = &cli.Command{
	Name:      "save",
	Usage:     "snapshot a disk's catalog and file payloads into an archive",
	ArgsUsage: "IMAGE_FILE ARCHIVE_FILE",
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("save", "IMAGE_FILE ARCHIVE_FILE")
		}
		dev, err := openDevice(args.Get(0), false)
		if err != nil {
			return err
		}
		defer dev.Close()

		s, err := fbengine.Open(dev, false)
		if err != nil {
			return err
		}

		out, err := os.Create(args.Get(1))
		if err != nil {
			return err
		}
		defer out.Close()

		return s.SaveArchive(out)
	},
}

var loadCommand = &cli.Command{
	Name:      "load",
	Usage:     "import an archive's files onto a disk",
	ArgsUsage: "IMAGE_FILE ARCHIVE_FILE",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "append", Usage: "keep the disk's existing catalog"},
	},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if args.Len() < 2 {
			return fberrorsUsage("load", "IMAGE_FILE ARCHIVE_FILE")
		}
		return withState(c, args.Get(0), false, func(s *fbengine.State) error {
			return s.LoadArchive(args.Get(1), c.Bool("append"))
		})
	},
}

var createCommand = &cli.Command{
	Name:      "create",
	Usage:     "build a fresh, empty archive file",
	ArgsUsage: "ARCHIVE_FILE",
	Flags: []cli.Flag{
		sizeFlag("primary", "p"),
		sizeFlag("extended", "e"),
		sizeFlag("list-size", "l"),
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return fberrorsUsage("create", "ARCHIVE_FILE")
		}
		pri, err := mustSize(c, "primary")
		if err != nil {
			return err
		}
		ext, err := mustSize(c, "extended")
		if err != nil {
			return err
		}
		list, err := mustSize(c, "list-size")
		if err != nil {
			return err
		}

		out, err := os.Create(path)
		if err != nil {
			return err
		}
		defer out.Close()
		return fbengine.CreateArchive(pri, ext, list, out)
	},
}

func fberrorsUsage(command, usage string) error {
	return fmt.Errorf("usage: fbinst %s %s", command, usage)
}

func progressFunc(c *cli.Context) fbengine.ProgressFunc {
	if !c.Bool("verbose") {
		return nil
	}
	return func(done, total uint32) {
		fmt.Fprintf(os.Stderr, "\r%d/%d sectors", done, total)
		if done == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}
