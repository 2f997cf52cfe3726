// Package flash models sector-erasable NOR flash: the driver surface the store
// programs through and the read path of already-programmed words.
package flash

import (
	"github.com/pkg/errors"
)

const (
	// ErasedWord is the value of a 32-bit word after its sector was erased.
	ErasedWord uint32 = 0xFFFFFFFF

	// DoubleWordSize is the programming unit in bytes.
	DoubleWordSize = 8
)

var (
	ErrOutOfRange  = errors.New("address outside flash array")
	ErrMisaligned  = errors.New("address not aligned")
	ErrVerifyErase = errors.New("erase verification failed")
	ErrTimeout     = errors.New("flash operation timeout")
	ErrPowerLoss   = errors.New("power lost during flash operation")
)

// Reader returns words that are already programmed into flash.
type Reader interface {
	ReadWord(addr uint32) (uint32, error)
}

// Driver is the blocking flash controller. Every call runs to hardware
// completion or failure.
type Driver interface {
	Reader

	// EraseSector sets every byte of the sector starting at addr to 0xFF.
	EraseSector(addr uint32) error

	// ProgramDoubleWord programs low at addr and high at addr+4. Programming
	// can only clear bits.
	ProgramDoubleWord(addr uint32, low, high uint32) error

	// VerifyErase returns ErrVerifyErase unless every byte in
	// [addr, addr+size) reads 0xFF.
	VerifyErase(addr uint32, size uint32) error
}

// Geometry describes the flash array a store can be placed in.
type Geometry struct {
	SectorSize uint32
	MainBase   uint32
	MainSize   uint32
	// Redundancy holds the base addresses of the two standalone
	// redundancy sectors.
	Redundancy [2]uint32
}

// DefaultGeometry is a 128 KiB part with 4 KiB sectors.
var DefaultGeometry = Geometry{
	SectorSize: 0x1000,
	MainBase:   0x10000000,
	MainSize:   0x20000,
	Redundancy: [2]uint32{0x11002000, 0x11003000},
}

// MainEnd returns the first address past the main array.
func (g Geometry) MainEnd() uint32 {
	return g.MainBase + g.MainSize
}

// InMain reports whether addr lies in the main array.
func (g Geometry) InMain(addr uint32) bool {
	return addr >= g.MainBase && addr < g.MainEnd()
}

// IsRedundancy reports whether addr is the base of a redundancy sector.
func (g Geometry) IsRedundancy(addr uint32) bool {
	return addr == g.Redundancy[0] || addr == g.Redundancy[1]
}

// SectorAligned reports whether addr is on a sector boundary.
func (g Geometry) SectorAligned(addr uint32) bool {
	return g.SectorSize != 0 && addr%g.SectorSize == 0
}

// ReadDoubleWord reads the low and high words at addr.
func ReadDoubleWord(r Reader, addr uint32) (uint32, uint32, error) {
	low, err := r.ReadWord(addr)
	if err != nil {
		return 0, 0, err
	}
	high, err := r.ReadWord(addr + 4)
	if err != nil {
		return 0, 0, err
	}
	return low, high, nil
}
