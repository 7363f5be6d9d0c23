package fbengine

import (
	"io"
	"os"

	"github.com/fbtool/fbinst/alloc"
	"github.com/fbtool/fbinst/archive"
	"github.com/fbtool/fbinst/catalog"
)

// SaveArchive snapshots s's current catalog and file payloads into a fresh
// archive written to w, matching save_archive.
func (s *State) SaveArchive(w io.Writer) error {
	return archive.Save(s.Dev, s.PriSize, s.TotalSize-s.PriSize, s.List.Records(),
		uint32(s.ListSectors)*510, w)
}

// CreateArchive builds the contents of a fresh, empty archive sized for
// priSizeBytes/extSizeBytes/listSizeBytes, matching create_archive. It
// writes directly to w; there is no in-memory State for a brand new
// archive until something Opens it back.
func CreateArchive(priSizeBytes uint32, extSizeBytes uint32, listSizeBytes uint32, w io.Writer) error {
	listSectors := uint16((listSizeBytes + 509) / 510)
	buf := archive.Create(uint16(priSizeBytes/510), extSizeBytes, listSectors)
	_, err := w.Write(buf)
	return err
}

// archiveSeed holds an archive file opened for reading during Format's
// --archive handling: its header (for default size derivation), its
// records (for Import), and the open file itself (Import streams payload
// bytes directly from it via io.SectionReader).
type archiveSeed struct {
	f       *os.File
	r       io.ReaderAt
	header  archive.Header
	records []catalog.Record
}

func openArchiveSeed(path string) (*archiveSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	header, records, err := archive.Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &archiveSeed{f: f, r: f, header: header, records: records}, nil
}

func (a *archiveSeed) Close() error {
	return a.f.Close()
}

// importInto places every record from seed onto dev via state's own
// catalog, finding space and inserting the catalog record in the same step
// so each subsequent record's first-fit search sees every record placed so
// far, matching load_archive's sequential alloc_file-per-record loop.
func importInto(state *State, seed *archiveSeed) error {
	for _, rec := range seed.records {
		res, err := alloc.Find(state.Layout(), state.List.Entries(), rec.DataSize, rec.IsExtended())
		if err != nil {
			return err
		}
		if _, err := archive.Import(seed.r, state.Dev, state.PriSize, []catalog.Record{rec},
			func(catalog.Record) (uint32, error) { return res.Start, nil }); err != nil {
			return err
		}
		placed := rec
		placed.DataStart = res.Start
		if err := state.List.InsertAt(res.InsertOffset, placed); err != nil {
			return err
		}
	}
	return nil
}

// LoadArchive imports every record from the archive at path onto s's
// device, placing each with the same first-fit allocator add/resize use,
// matching load_archive. appendMode, when false, clears s's existing
// catalog first; when true the archive's files are added alongside
// whatever's already there.
func (s *State) LoadArchive(path string, appendMode bool) error {
	seed, err := openArchiveSeed(path)
	if err != nil {
		return err
	}
	defer seed.Close()

	if !appendMode {
		s.List = catalog.Empty(int(s.ListSectors) * 510)
	}

	return importInto(s, seed)
}
