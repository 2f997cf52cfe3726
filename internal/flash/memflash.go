package flash

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var _ Driver = &MemFlash{}

type region struct {
	base uint32
	data []byte
}

func (r *region) contains(addr, n uint32) bool {
	return addr >= r.base && uint64(addr)+uint64(n) <= uint64(r.base)+uint64(len(r.data))
}

// MemFlash simulates a NOR flash part in memory. Programming ANDs the new
// value into the cell, erasing restores 0xFF.
type MemFlash struct {
	geometry Geometry
	regions  []*region

	erases   map[uint32]int
	programs int

	// ProgramHook, when set, runs before each double-word program. The
	// returned words are what actually reaches the cells, a non-nil error is
	// reported to the caller after they were programmed.
	ProgramHook func(addr uint32, low, high uint32) (uint32, uint32, error)

	// EraseHook, when set, runs before each sector erase. A non-nil error
	// aborts the erase.
	EraseHook func(addr uint32) error
}

// NewMem returns an erased flash part with the given geometry.
func NewMem(g Geometry) *MemFlash {
	mf := &MemFlash{
		geometry: g,
		erases:   make(map[uint32]int),
	}
	mf.regions = append(mf.regions, newErasedRegion(g.MainBase, g.MainSize))
	for _, base := range g.Redundancy {
		if base == 0 {
			continue
		}
		mf.regions = append(mf.regions, newErasedRegion(base, g.SectorSize))
	}
	return mf
}

func newErasedRegion(base, size uint32) *region {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	return &region{base: base, data: data}
}

// Geometry returns the layout of the simulated part.
func (mf *MemFlash) Geometry() Geometry {
	return mf.geometry
}

func (mf *MemFlash) locate(addr, n uint32) ([]byte, error) {
	for _, r := range mf.regions {
		if r.contains(addr, n) {
			off := addr - r.base
			return r.data[off : off+n], nil
		}
	}
	return nil, errors.Wrapf(ErrOutOfRange, "address 0x%08X, length %d", addr, n)
}

// ReadWord reads the little-endian word at addr.
func (mf *MemFlash) ReadWord(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, errors.Wrapf(ErrMisaligned, "read at 0x%08X", addr)
	}
	b, err := mf.locate(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// EraseSector erases the sector starting at addr.
func (mf *MemFlash) EraseSector(addr uint32) error {
	if !mf.geometry.SectorAligned(addr) {
		return errors.Wrapf(ErrMisaligned, "erase at 0x%08X", addr)
	}
	b, err := mf.locate(addr, mf.geometry.SectorSize)
	if err != nil {
		return err
	}
	if mf.EraseHook != nil {
		if err := mf.EraseHook(addr); err != nil {
			return err
		}
	}
	for i := range b {
		b[i] = 0xFF
	}
	mf.erases[addr]++
	return nil
}

// ProgramDoubleWord programs low and high at addr.
func (mf *MemFlash) ProgramDoubleWord(addr uint32, low, high uint32) error {
	if addr%DoubleWordSize != 0 {
		return errors.Wrapf(ErrMisaligned, "program at 0x%08X", addr)
	}
	b, err := mf.locate(addr, DoubleWordSize)
	if err != nil {
		return err
	}

	var hookErr error
	if mf.ProgramHook != nil {
		low, high, hookErr = mf.ProgramHook(addr, low, high)
	}

	binary.LittleEndian.PutUint32(b[0:4], binary.LittleEndian.Uint32(b[0:4])&low)
	binary.LittleEndian.PutUint32(b[4:8], binary.LittleEndian.Uint32(b[4:8])&high)
	mf.programs++
	return hookErr
}

// VerifyErase checks that [addr, addr+size) is erased.
func (mf *MemFlash) VerifyErase(addr uint32, size uint32) error {
	for a := addr; a < addr+size; a += 4 {
		w, err := mf.ReadWord(a)
		if err != nil {
			return err
		}
		if w != ErasedWord {
			return errors.Wrapf(ErrVerifyErase, "word at 0x%08X is 0x%08X", a, w)
		}
	}
	return nil
}

// EraseCount returns how many times the sector at addr has been erased.
func (mf *MemFlash) EraseCount(addr uint32) int {
	return mf.erases[addr]
}

// ProgramCount returns the number of double-word programs issued.
func (mf *MemFlash) ProgramCount() int {
	return mf.programs
}
