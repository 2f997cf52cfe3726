package flash

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"os"

	"github.com/pkg/errors"

	"github.com/mvaleed/meeprom/internal/flash/mmap"
)

var _ Driver = &FileFlash{}

// FileFlash is a flash window [base, base+size) kept in an image file.
// Programs and erases go through the file handle, reads through a shared
// read-only mapping of the same file.
type FileFlash struct {
	file       *os.File
	view       *mmap.Region
	base       uint32
	size       uint32
	sectorSize uint32
}

// OpenFile opens the image at path, creating an erased image when the file
// does not exist or is empty.
func OpenFile(path string, base, size, sectorSize uint32) (*FileFlash, error) {
	if sectorSize == 0 || size%sectorSize != 0 || base%sectorSize != 0 {
		return nil, errors.Errorf("window 0x%08X+0x%X is not sector aligned (sector 0x%X)", base, size, sectorSize)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WithStack(err)
	}

	switch {
	case fi.Size() == 0:
		if _, err := f.WriteAt(bytes.Repeat([]byte{0xFF}, int(size)), 0); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "failed to create erased image")
		}
	case fi.Size() != int64(size):
		f.Close()
		return nil, errors.Errorf("image %s is %d bytes, expected %d", path, fi.Size(), size)
	}

	view, err := mmap.Open(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileFlash{
		file:       f,
		view:       view,
		base:       base,
		size:       size,
		sectorSize: sectorSize,
	}, nil
}

func (ff *FileFlash) offset(addr, n uint32) (int64, error) {
	if addr < ff.base || uint64(addr)+uint64(n) > uint64(ff.base)+uint64(ff.size) {
		return 0, errors.Wrapf(ErrOutOfRange, "address 0x%08X, length %d", addr, n)
	}
	return int64(addr - ff.base), nil
}

// ReadWord reads the little-endian word at addr.
func (ff *FileFlash) ReadWord(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, errors.Wrapf(ErrMisaligned, "read at 0x%08X", addr)
	}
	off, err := ff.offset(addr, 4)
	if err != nil {
		return 0, err
	}
	b, err := ff.view.ReadAt(int(off), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// EraseSector erases the sector starting at addr.
func (ff *FileFlash) EraseSector(addr uint32) error {
	if addr%ff.sectorSize != 0 {
		return errors.Wrapf(ErrMisaligned, "erase at 0x%08X", addr)
	}
	off, err := ff.offset(addr, ff.sectorSize)
	if err != nil {
		return err
	}
	if _, err := ff.file.WriteAt(bytes.Repeat([]byte{0xFF}, int(ff.sectorSize)), off); err != nil {
		return errors.Wrapf(err, "erase at 0x%08X", addr)
	}
	return nil
}

// ProgramDoubleWord ANDs low and high into the cells at addr.
func (ff *FileFlash) ProgramDoubleWord(addr uint32, low, high uint32) error {
	if addr%DoubleWordSize != 0 {
		return errors.Wrapf(ErrMisaligned, "program at 0x%08X", addr)
	}
	off, err := ff.offset(addr, DoubleWordSize)
	if err != nil {
		return err
	}
	cur, err := ff.view.ReadAt(int(off), DoubleWordSize)
	if err != nil {
		return err
	}

	var buf [DoubleWordSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], binary.LittleEndian.Uint32(cur[0:4])&low)
	binary.LittleEndian.PutUint32(buf[4:8], binary.LittleEndian.Uint32(cur[4:8])&high)
	if _, err := ff.file.WriteAt(buf[:], off); err != nil {
		return errors.Wrapf(err, "program at 0x%08X", addr)
	}
	return nil
}

// VerifyErase checks that [addr, addr+size) is erased.
func (ff *FileFlash) VerifyErase(addr uint32, size uint32) error {
	off, err := ff.offset(addr, size)
	if err != nil {
		return err
	}
	b, err := ff.view.ReadAt(int(off), int(size))
	if err != nil {
		return err
	}
	for i, c := range b {
		if c != 0xFF {
			return errors.Wrapf(ErrVerifyErase, "byte at 0x%08X is 0x%02X", addr+uint32(i), c)
		}
	}
	return nil
}

// Base returns the first address of the window.
func (ff *FileFlash) Base() uint32 {
	return ff.base
}

// Size returns the window length in bytes.
func (ff *FileFlash) Size() uint32 {
	return ff.size
}

// Close syncs and releases the image.
func (ff *FileFlash) Close() error {
	syncErr := ff.file.Sync()
	viewErr := ff.view.Close()
	fileErr := ff.file.Close()
	return errors.WithStack(stderrors.Join(syncErr, viewErr, fileErr))
}
