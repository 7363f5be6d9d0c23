package fbengine

import (
	"github.com/fbtool/fbinst/catalog"
	fberrors "github.com/fbtool/fbinst/errors"
)

// bootCodeEnd is the byte offset one past the MBR's boot_code field (the
// opaque blob from offset 2 up to the max-sectors-per-read field at
// 0x1ad), the boundary Update replaces up to.
const bootCodeEnd = 0x1ad

// Update installs a new compiled-in boot loader over an already-formatted
// disk, matching update_header. Each ladder copy's own BPB-shaped prefix
// (offset 2 through its own jmp_ofs byte, which Sync/Format may have
// customized per partition) is preserved from what's already on disk; only
// the jmp_ofs byte itself and the boot_code bytes from there through
// bootCodeEnd are replaced with tmpl's. Everything past bootCodeEnd
// (max_sec, lba, boot_base, fb_magic, the partition table, end_magic) is
// left untouched, unlike Sync. The boot-data sector's own header fields
// (boot size, version, catalog bookkeeping) are likewise preserved; only
// the boot code payload following them is replaced, and any sectors beyond
// the first are replaced wholesale since nothing of the old ones survives
// past the header.
func (s *State) Update(tmpl MBRTemplate) error {
	if s.ArMode {
		return fberrors.InvalidArgument.WithMessage("update does not apply to archives")
	}

	bootSize := uint16((len(tmpl.BootCode) + 509) / 510)
	if uint32(s.BootBase)+1+uint32(bootSize) > s.ListStart {
		return fberrors.NoSpace.WithMessage("not enough space, you need to use format instead")
	}

	jmpOfs := int(tmpl.Sector0[1])
	ofs := jmpOfs + 2

	for i := uint16(0); i <= s.BootBase; i++ {
		if err := s.Dev.Seek(uint32(i)); err != nil {
			return err
		}
		var sector [512]byte
		if err := s.Dev.ReadSectors(sector[:], 1); err != nil {
			return err
		}
		copy(sector[ofs:bootCodeEnd], tmpl.Sector0[ofs:bootCodeEnd])
		sector[1] = tmpl.Sector0[1]

		if err := s.Dev.Seek(uint32(i)); err != nil {
			return err
		}
		if err := s.Dev.WriteSectors(sector[:], 1); err != nil {
			return err
		}
	}

	if err := s.Dev.Seek(uint32(s.BootBase) + 1); err != nil {
		return err
	}
	var headerSector [512]byte
	if err := s.Dev.ReadSectors(headerSector[:], 1); err != nil {
		return err
	}

	payload := make([]byte, int(bootSize)*510)
	copy(payload[:dataHeaderSize], headerSector[:dataHeaderSize])
	if len(tmpl.BootCode) > dataHeaderSize {
		copy(payload[dataHeaderSize:], tmpl.BootCode[dataHeaderSize:])
	}

	stamped := catalog.AddMark(payload, int(bootSize), uint32(s.BootBase)+1)
	if err := s.Dev.Seek(uint32(s.BootBase) + 1); err != nil {
		return err
	}
	return s.Dev.WriteSectors(stamped, int(bootSize))
}
