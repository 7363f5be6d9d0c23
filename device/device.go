// Package device abstracts the block storage fbinst operates on, whether
// that's a raw disk, a disk image file, or an in-memory buffer used by
// tests. Every higher layer (mbr, bpb, catalog, alloc, filedata, archive)
// talks to a BlockDevice rather than an os.File directly.
package device

import (
	"io"
	"os"
	"syscall"

	fberrors "github.com/fbtool/fbinst/errors"
	"github.com/fbtool/fbinst/region"
	"github.com/xaionaro-go/bytesextra"
)

// BlockDevice is the I/O surface every fbinst component builds on. All reads
// and writes are expressed in whole 512-byte sectors; callers that need the
// primary-area watermark applied or stripped do that themselves through the
// filedata package.
type BlockDevice interface {
	// SizeInSectors returns the total number of 512-byte sectors backing
	// this device.
	SizeInSectors() (uint32, error)

	// Seek positions the device at the start of sector lba. Subsequent
	// ReadSectors/WriteSectors calls operate from there and advance.
	Seek(lba uint32) error

	// ReadSectors reads n sectors (n*512 bytes) into buf, which must be at
	// least that large, starting from the current position.
	ReadSectors(buf []byte, n int) error

	// WriteSectors writes n sectors (n*512 bytes) from buf, which must be
	// at least that large, starting from the current position.
	WriteSectors(buf []byte, n int) error

	// Lock takes an advisory exclusive lock on the underlying device, if
	// the backend supports one. Backends without a meaningful notion of
	// locking (in-memory buffers) return nil.
	Lock() error

	// Close releases any resources (including a held Lock) and flushes
	// pending writes where the backend requires an explicit flush.
	Close() error
}

// -----------------------------------------------------------------------------

// fileDevice is a BlockDevice backed by an *os.File: a real block device
// node or a disk image sitting on a filesystem.
type fileDevice struct {
	f      *os.File
	locked bool
}

// OpenFile opens path for fbinst use. If writable is false the file is
// opened read-only; writable devices are opened O_RDWR without O_CREATE,
// so the backing disk or image must already exist (CreateFile is the
// constructor that creates and sizes a new image file).
func OpenFile(path string, writable bool) (BlockDevice, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fberrors.IoError.WrapError(err)
	}
	return &fileDevice{f: f}, nil
}

// CreateFile creates (or truncates) path and sizes it to exactly
// sizeInSectors*512 bytes, for format/create on a plain disk image file.
func CreateFile(path string, sizeInSectors uint32) (BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fberrors.IoError.WrapError(err)
	}
	if err := f.Truncate(int64(sizeInSectors) * region.SectorSize); err != nil {
		f.Close()
		return nil, fberrors.IoError.WrapError(err)
	}
	return &fileDevice{f: f}, nil
}

// Truncatable is implemented by backends that can shrink or grow after
// creation, the way an archive file's write_header trims trailing bytes
// once ar_size settles below the buffer it was opened with.
type Truncatable interface {
	Truncate(sectors uint32) error
}

// Truncate resizes the backing file to exactly sectors*512 bytes.
func (d *fileDevice) Truncate(sectors uint32) error {
	if err := d.f.Truncate(int64(sectors) * region.SectorSize); err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

func (d *fileDevice) SizeInSectors() (uint32, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, fberrors.IoError.WrapError(err)
	}
	size := info.Size()
	if size%region.SectorSize != 0 {
		return 0, fberrors.InvalidArgument.WithMessage(
			"device size is not a whole number of sectors")
	}
	return uint32(size / region.SectorSize), nil
}

func (d *fileDevice) Seek(lba uint32) error {
	_, err := d.f.Seek(int64(lba)*region.SectorSize, io.SeekStart)
	if err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

func (d *fileDevice) ReadSectors(buf []byte, n int) error {
	want := n * region.SectorSize
	if len(buf) < want {
		return fberrors.InvalidArgument.WithMessage("buffer too small for requested sectors")
	}
	_, err := io.ReadFull(d.f, buf[:want])
	if err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

func (d *fileDevice) WriteSectors(buf []byte, n int) error {
	want := n * region.SectorSize
	if len(buf) < want {
		return fberrors.InvalidArgument.WithMessage("buffer too small for requested sectors")
	}
	_, err := d.f.Write(buf[:want])
	if err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

// Lock takes an advisory BSD flock(2) exclusive lock, non-blocking: fbinst
// fails fast rather than waiting on another instance.
func (d *fileDevice) Lock() error {
	if err := syscall.Flock(int(d.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fberrors.LockFailure.WrapError(err)
	}
	d.locked = true
	return nil
}

func (d *fileDevice) Close() error {
	if d.locked {
		syscall.Flock(int(d.f.Fd()), syscall.LOCK_UN)
	}
	if err := d.f.Close(); err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// memoryDevice is a BlockDevice over an in-memory buffer via bytesextra,
// used by tests that operate on a []byte rather than a file on disk.
type memoryDevice struct {
	rws   io.ReadWriteSeeker
	total uint32
}

// NewMemoryDevice wraps buf (whose length must be a multiple of 512 bytes)
// as a BlockDevice. Writes mutate buf in place.
func NewMemoryDevice(buf []byte) (BlockDevice, error) {
	if len(buf)%region.SectorSize != 0 {
		return nil, fberrors.InvalidArgument.WithMessage(
			"buffer length is not a whole number of sectors")
	}
	return &memoryDevice{
		rws:   bytesextra.NewReadWriteSeeker(buf),
		total: uint32(len(buf) / region.SectorSize),
	}, nil
}

func (d *memoryDevice) SizeInSectors() (uint32, error) {
	return d.total, nil
}

func (d *memoryDevice) Seek(lba uint32) error {
	_, err := d.rws.Seek(int64(lba)*region.SectorSize, io.SeekStart)
	if err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

func (d *memoryDevice) ReadSectors(buf []byte, n int) error {
	want := n * region.SectorSize
	if len(buf) < want {
		return fberrors.InvalidArgument.WithMessage("buffer too small for requested sectors")
	}
	_, err := io.ReadFull(d.rws, buf[:want])
	if err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

func (d *memoryDevice) WriteSectors(buf []byte, n int) error {
	want := n * region.SectorSize
	if len(buf) < want {
		return fberrors.InvalidArgument.WithMessage("buffer too small for requested sectors")
	}
	_, err := d.rws.Write(buf[:want])
	if err != nil {
		return fberrors.IoError.WrapError(err)
	}
	return nil
}

// Lock is a no-op for in-memory devices: there is nothing another process
// could contend for.
func (d *memoryDevice) Lock() error {
	return nil
}

func (d *memoryDevice) Close() error {
	return nil
}
