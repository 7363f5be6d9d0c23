package fbengine

import (
	"bytes"
	"io"
	"strings"

	"github.com/fbtool/fbinst/alloc"
	"github.com/fbtool/fbinst/catalog"
	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/filedata"
	"github.com/fbtool/fbinst/menu"
	"github.com/fbtool/fbinst/syslinux"
)

// maxBufferBytes bounds any command that loads a whole file into memory
// (cat/add-menu/cat-menu), matching global_buffer's fixed GLOB_BUF_SIZE*512
// capacity.
const maxBufferBytes = 512 * 64

// getName strips leading slashes from a catalog name and rejects an empty
// result, matching get_name.
func getName(name string) (string, error) {
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "", fberrors.InvalidArgument.WithMessage("empty file name")
	}
	return name, nil
}

// Find looks up a catalog entry by name, matching find_file.
func (s *State) Find(name string) (catalog.Record, bool) {
	name, err := getName(name)
	if err != nil {
		return catalog.Record{}, false
	}
	return s.List.Find(name)
}

func (s *State) findEntry(name string) (catalog.Entry, bool) {
	for _, e := range s.List.Entries() {
		if strings.EqualFold(e.Record.Name, name) {
			return e, true
		}
	}
	return catalog.Entry{}, false
}

// Add allocates space for a new size-byte file and streams src onto it,
// inserting a fresh catalog record, matching save_file/save_buff's common
// core (alloc_file followed by the data write). ext requests extended-area
// placement but — matching alloc_file, not cpy_file — the record's flag
// always reflects the caller's request, even on the rare occasion find_space
// silently places a non-extended request's tail into the extended area.
func (s *State) Add(name string, src io.Reader, size uint32, modTime uint32, ext bool) (catalog.Record, error) {
	name, err := getName(name)
	if err != nil {
		return catalog.Record{}, err
	}
	if size == 0 {
		return catalog.Record{}, fberrors.InvalidArgument.WithMessage("empty file")
	}

	s.List.Delete(name)
	res, err := alloc.Find(s.Layout(), s.List.Entries(), size, ext)
	if err != nil {
		return catalog.Record{}, err
	}

	if err := filedata.Save(s.Dev, s.PriSize, res.Start, size, src); err != nil {
		return catalog.Record{}, err
	}

	flag := byte(0)
	if ext {
		flag |= catalog.FlagExtended
	}
	rec := catalog.Record{Flag: flag, DataStart: res.Start, DataSize: size, DataTime: modTime, Name: name}
	if err := s.List.InsertAt(res.InsertOffset, rec); err != nil {
		return catalog.Record{}, err
	}
	return rec, nil
}

// AddSyslinux is Add followed by syslinux_patch: it stamps ldlinux.bin's own
// installed position into its descriptor and recomputes its checksum,
// matching add_file's --syslinux option (which forces extended placement).
func (s *State) AddSyslinux(name string, src io.Reader, size uint32, modTime uint32) (catalog.Record, error) {
	rec, err := s.Add(name, src, size, modTime, true)
	if err != nil {
		return catalog.Record{}, err
	}
	if err := s.patchSyslinux(&rec); err != nil {
		return catalog.Record{}, err
	}
	return rec, nil
}

// patchSyslinux reads all of the file's sectors as raw on-disk bytes
// (not through filedata's watermark-stripping Load/Save, since
// syslinux.Patch's signature offsets and checksum are computed against the
// sectors exactly as they sit on disk), patches them, writes the first two
// sectors back, and sets the syslinux flag bit on the catalog record.
func (s *State) patchSyslinux(rec *catalog.Record) error {
	sectors := int((rec.DataSize + 511) / 512)
	if sectors <= 2 || sectors > 64 {
		return fberrors.SyslinuxInvalid.WithMessage("invalid size for ldlinux.bin")
	}

	image := make([]byte, sectors*512)
	if err := s.Dev.Seek(rec.DataStart); err != nil {
		return err
	}
	if err := s.Dev.ReadSectors(image, sectors); err != nil {
		return err
	}

	if err := syslinux.Patch(image, rec.DataStart, s.PartOfs); err != nil {
		return err
	}

	if err := s.Dev.Seek(rec.DataStart); err != nil {
		return err
	}
	if err := s.Dev.WriteSectors(image, 2); err != nil {
		return err
	}

	rec.Flag |= catalog.FlagSyslinux
	entry, ok := s.findEntry(rec.Name)
	if !ok {
		return fberrors.NotFound.WithMessage("file vanished during syslinux patch")
	}
	return s.List.InsertAt(entry.Offset, *rec)
}

// Remove deletes a catalog entry, matching remove_file. It returns a
// NotFound error when no entry has that name.
func (s *State) Remove(name string) error {
	name, err := getName(name)
	if err != nil {
		return err
	}
	if !s.List.Delete(name) {
		return fberrors.NotFound.WithMessage("file not found")
	}
	return nil
}

// Resize grows or shrinks a file in place, matching resize_file: shrinking
// (or growing a file that doesn't yet exist) is a metadata-only or
// fresh-copy operation; growing an existing file relocates it via copyFile,
// padding the newly uncovered tail of its last existing sector with fill.
func (s *State) Resize(name string, newSize uint32, fill byte, modTime uint32) error {
	name, err := getName(name)
	if err != nil {
		return err
	}

	entry, found := s.findEntry(name)
	var oldStart, oldSize uint32
	var ext bool
	if found {
		if entry.Record.DataSize >= newSize {
			entry.Record.DataSize = newSize
			return s.List.InsertAt(entry.Offset, entry.Record)
		}
		ext = entry.Record.IsExtended()
		oldStart, oldSize = entry.Record.DataStart, entry.Record.DataSize
		s.List.Delete(name)
	}

	_, err = s.copyFile(name, newSize, oldStart, oldSize, ext, fill, modTime)
	return err
}

// Copy duplicates srcName's data under dstName, matching copy_file.
func (s *State) Copy(srcName, dstName string) error {
	dstName, err := getName(dstName)
	if err != nil {
		return err
	}
	s.List.Delete(dstName)

	src, ok := s.Find(srcName)
	if !ok {
		return fberrors.NotFound.WithMessage("source file not found")
	}

	_, err = s.copyFile(dstName, src.DataSize, src.DataStart, src.DataSize, src.IsExtended(), 0, src.DataTime)
	return err
}

// Move renames srcName to dstName in place, matching move_file: the data
// itself never moves, only the catalog record's name and, when the new
// encoded length differs from the old, its slot in the list (entries are
// kept ordered by DataStart, so the rename is reinserted at the position
// that ordering dictates rather than its old byte offset, which may no
// longer be valid once the old entry is removed).
func (s *State) Move(srcName, dstName string) error {
	dstName, err := getName(dstName)
	if err != nil {
		return err
	}
	s.List.Delete(dstName)

	srcName, err = getName(srcName)
	if err != nil {
		return err
	}
	entry, ok := s.findEntry(srcName)
	if !ok {
		return fberrors.NotFound.WithMessage("source file not found")
	}
	rec := entry.Record
	rec.Name = dstName

	s.List.Delete(srcName)
	return s.List.InsertAt(s.insertOffsetFor(rec.DataStart), rec)
}

// insertOffsetFor finds the byte offset of the first entry whose DataStart
// exceeds dataStart, preserving the catalog's ascending-by-position
// ordering that Info/Pack's gap detection relies on.
func (s *State) insertOffsetFor(dataStart uint32) int {
	for _, e := range s.List.Entries() {
		if e.Record.DataStart > dataStart {
			return e.Offset
		}
	}
	return s.List.Tail()
}

// Export streams a catalog entry's data to dst, matching export_file/
// load_file.
func (s *State) Export(name string, dst io.Writer) error {
	rec, ok := s.Find(name)
	if !ok {
		return fberrors.NotFound.WithMessage("file not found")
	}
	return filedata.Load(s.Dev, s.PriSize, rec.DataStart, rec.DataSize, dst)
}

// Cat loads a catalog entry's whole content into memory, matching cat_file/
// load_buff. Entries larger than maxBufferBytes are rejected, matching
// load_buff's global_buffer size check.
func (s *State) Cat(name string) ([]byte, error) {
	rec, ok := s.Find(name)
	if !ok {
		return nil, fberrors.NotFound.WithMessage("file not found")
	}
	if rec.DataSize > maxBufferBytes {
		return nil, fberrors.InvalidArgument.WithMessage("file too large")
	}
	var buf bytes.Buffer
	if err := filedata.Load(s.Dev, s.PriSize, rec.DataStart, rec.DataSize, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AddMenu compiles items into a menu script blob and stores it under name,
// matching add_menu: appendMode loads the existing file's items first (if
// it exists) and the new items are appended after them, one catalog Add
// call replacing whatever was there before.
func (s *State) AddMenu(name string, items []menu.Item, appendMode bool) error {
	if appendMode {
		if existing, err := s.Cat(name); err == nil {
			prior, err := menu.Decode(existing)
			if err == nil {
				items = append(append([]menu.Item{}, prior...), items...)
			}
		}
	}

	blob, err := menu.Compile(items)
	if err != nil {
		return err
	}
	_, err = s.Add(name, bytes.NewReader(blob), uint32(len(blob)), 0, false)
	return err
}

// CatMenu loads name's blob and decodes it back into menu items, matching
// cat_menu (the original's own text rendering of each item is a display
// concern left to the caller).
func (s *State) CatMenu(name string) ([]menu.Item, error) {
	blob, err := s.Cat(name)
	if err != nil {
		return nil, err
	}
	return menu.Decode(blob)
}

// Clear empties the whole catalog, matching the "clear" command's
// clear_menu call (which, despite its name, resets fb_list_tail to zero —
// every file entry, not just menu ones).
func (s *State) Clear() {
	s.List = catalog.Empty(int(s.ListSectors) * 510)
}

// copyFile is cpy_file: allocates size bytes (forcing extended placement
// when ext is set), reuses as much of the old data as fits byte-for-byte
// (via a raw sector copy for whole reused sectors, and a padded rewrite of
// the old tail's partial sector), then fill-pads the rest.
func (s *State) copyFile(name string, size uint32, oldStart, oldSize uint32, ext bool, fill byte, modTime uint32) (catalog.Record, error) {
	res, err := alloc.Find(s.Layout(), s.List.Entries(), size, ext)
	if err != nil {
		return catalog.Record{}, err
	}
	start := res.Start
	actualExt := ext
	if oldSize == 0 {
		actualExt = start >= s.PriSize
	} else if ext != (start >= s.PriSize) {
		return catalog.Record{}, fberrors.NoSpace.WithMessage("not enough space")
	}

	unit := uint32(510)
	if actualExt {
		unit = 512
	}
	sizeSectors := ceilDivU32(size, unit)

	if oldSize != 0 {
		reusable := oldSize / unit
		if reusable > 0 {
			if start != oldStart {
				if err := filedata.CopySectors(s.Dev, s.PriSize, start, oldStart, reusable*unit); err != nil {
					return catalog.Record{}, err
				}
			}
			start += reusable
			oldStart += reusable
			sizeSectors -= reusable
		}

		if remainder := oldSize % unit; remainder != 0 {
			if err := s.copyPartialSector(start, oldStart, remainder, unit, fill, actualExt); err != nil {
				return catalog.Record{}, err
			}
			start++
			sizeSectors--
		}
	}

	if err := s.fillSectors(start, sizeSectors, fill, actualExt); err != nil {
		return catalog.Record{}, err
	}

	flag := byte(0)
	if actualExt {
		flag |= catalog.FlagExtended
	}
	rec := catalog.Record{Flag: flag, DataStart: res.Start, DataSize: size, DataTime: modTime, Name: name}
	if err := s.List.InsertAt(res.InsertOffset, rec); err != nil {
		return catalog.Record{}, err
	}
	return rec, nil
}

// copyPartialSector reads the old data's last, partially-filled sector,
// pads its unused tail with fill, and writes it as the new area's first
// sector, matching cpy_file's old_size%block_size branch.
func (s *State) copyPartialSector(newStart, oldStart uint32, used, unit uint32, fill byte, ext bool) error {
	if err := s.Dev.Seek(oldStart); err != nil {
		return err
	}
	raw := make([]byte, 512)
	if err := s.Dev.ReadSectors(raw, 1); err != nil {
		return err
	}
	for i := used; i < unit; i++ {
		raw[i] = fill
	}
	if !ext {
		raw[510] = byte(newStart)
		raw[511] = byte(newStart >> 8)
	}
	if err := s.Dev.Seek(newStart); err != nil {
		return err
	}
	return s.Dev.WriteSectors(raw, 1)
}

// fillSectors writes n sectors of fill bytes starting at start, stamping
// the primary-area watermark as it goes, in globBufSectors-sized batches,
// matching cpy_file's trailing zero_disk-with-fill loop.
func (s *State) fillSectors(start uint32, n uint32, fill byte, ext bool) error {
	if n == 0 {
		return nil
	}
	if err := s.Dev.Seek(start); err != nil {
		return err
	}
	pos := start
	for n > 0 {
		batch := uint32(globBufSectors)
		if batch > n {
			batch = n
		}
		buf := make([]byte, int(batch)*512)
		for i := range buf {
			buf[i] = fill
		}
		if !ext {
			buf = catalog.AddMark(buf, int(batch), pos)
		}
		if err := s.Dev.WriteSectors(buf, int(batch)); err != nil {
			return err
		}
		pos += batch
		n -= batch
	}
	return nil
}

// Pack compacts every file forward to eliminate gaps, matching pack_disk:
// files are walked in on-disk order and slid down to the earliest free
// position, jumping straight to the primary/extended boundary once a file
// crosses into the extended area.
func (s *State) Pack() error {
	b := s.ListStart + uint32(s.ListSectors)
	entries := s.List.Entries()
	for _, e := range entries {
		rec := e.Record
		unit := uint32(510)
		if rec.DataStart >= s.PriSize {
			unit = 512
		}
		n := ceilDivU32(rec.DataSize, unit)

		if b < s.PriSize && rec.DataStart >= s.PriSize {
			b = s.PriSize
		}

		if rec.DataStart != b {
			if err := filedata.CopySectors(s.Dev, s.PriSize, b, rec.DataStart, n*unit); err != nil {
				return err
			}
			rec.DataStart = b
			if err := s.List.InsertAt(e.Offset, rec); err != nil {
				return err
			}
		}

		b = rec.DataStart + n
	}
	return nil
}

// Check verifies every primary-area sector still carries the watermark it
// should: the fb MBR ladder's own lba/end_magic fields for sectors
// 0..BootBase, and the running sector index for every sector after, matching
// check_disk.
func (s *State) Check() error {
	if s.ArMode {
		return nil
	}
	if err := s.Dev.Seek(0); err != nil {
		return err
	}
	buf := make([]byte, 512)
	for start := uint32(0); start < s.PriSize; start++ {
		if err := s.Dev.ReadSectors(buf, 1); err != nil {
			return err
		}
		endMagic := uint16(buf[0x1fe]) | uint16(buf[0x1ff])<<8
		if start <= uint32(s.BootBase) {
			lba := uint16(buf[0x1ae]) | uint16(buf[0x1af])<<8
			if endMagic != 0xaa55 || lba != uint16(start) {
				return fberrors.InvalidMbr.WithMessage("check failed: MBR ladder sector corrupted")
			}
		} else if endMagic != uint16(start) {
			return fberrors.InvalidMbr.WithMessage("check failed: watermark mismatch")
		}
	}
	return nil
}
