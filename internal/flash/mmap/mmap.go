// Package mmap maps a flash image file read-only so programmed words can be
// read the way firmware reads memory-mapped flash.
package mmap

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Region is a read-only shared mapping of a file. Writes made through another
// handle on the same file are visible through it; the mapped length is fixed
// at Open.
type Region struct {
	file *os.File
	data []byte
}

// Open maps the whole file at path.
func Open(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to stat file")
	}

	// syscall.Mmap rejects a zero length with EINVAL.
	if fi.Size() == 0 {
		return &Region{file: f}, nil
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to mmap")
	}

	return &Region{file: f, data: data}, nil
}

// ReadAt returns a view of length bytes at offset. The view is only valid
// until Close.
func (r *Region) ReadAt(offset, length int) ([]byte, error) {
	if r.data == nil {
		return nil, errors.New("region is empty or closed")
	}
	if offset < 0 || offset+length > len(r.data) {
		return nil, errors.Errorf("out of bounds: len=%d, off=%d, n=%d", len(r.data), offset, length)
	}
	return r.data[offset : offset+length], nil
}

// Close unmaps and closes the file.
func (r *Region) Close() error {
	if len(r.data) > 0 {
		if err := syscall.Munmap(r.data); err != nil {
			r.file.Close()
			return errors.Wrap(err, "munmap failed")
		}
		r.data = nil
	}
	return errors.WithStack(r.file.Close())
}
