package meeprom

import (
	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/flash"
)

// maxAddressLimit is the number of addresses the 16-bit address field holds.
const maxAddressLimit = 1 << 16

// Config places a store in flash.
type Config struct {
	// Base is the address of page 0. Page 1 follows it directly.
	Base uint32
	// SectorsPerPage is the size of one page in flash sectors.
	SectorsPerPage uint32
	// MaxAddress is the number of logical addresses, 0..MaxAddress-1. Each
	// page must hold all of them twice over.
	MaxAddress uint32
	// EntryTable is optional caller-owned storage for the entry table. Its
	// length must be at least MaxAddress.
	EntryTable []uint32
	// Geometry defaults to flash.DefaultGeometry.
	Geometry *flash.Geometry
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// check validates the control block parameters.
func (s *Store) check() error {
	g := s.geometry

	if !g.InMain(s.base) && !g.IsRedundancy(s.base) {
		return errorf(CodeInvalidCB, "base 0x%08X outside flash array", s.base)
	}
	if !g.SectorAligned(s.base) {
		return errorf(CodeInvalidCB, "base 0x%08X not sector aligned", s.base)
	}
	if s.sectorsPerPage == 0 || s.maxAddress == 0 {
		return errorf(CodeInvalidCB, "sectors per page %d, max address %d", s.sectorsPerPage, s.maxAddress)
	}
	// Half the page, so the other page can always take every live value.
	if s.maxAddress > s.pageSize()/elementSize/2 || s.maxAddress > maxAddressLimit {
		return errorf(CodeInvalidCB, "max address %d exceeds page capacity", s.maxAddress)
	}
	if uint32(len(s.table)) < s.maxAddress {
		return errorf(CodeInvalidCB, "entry table holds %d of %d entries", len(s.table), s.maxAddress)
	}
	return nil
}
