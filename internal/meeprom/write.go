package meeprom

import (
	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/flash"
)

// WriteResult describes what a successful WriteWord did besides storing the
// value.
type WriteResult struct {
	// Compacted is set when the write filled the active page and the live
	// values were moved to the other page.
	Compacted bool
}

// programResult is the outcome of one element program.
type programResult struct {
	// written is false when the page was already full and nothing was
	// programmed.
	written bool
	// full is set once the page has no slot left.
	full bool
}

// program appends one element. With transfer set it targets the page that is
// not active, which is the page being filled by a compaction.
func (s *Store) program(address, value uint32, transfer bool) (programResult, error) {
	if address >= s.maxAddress {
		return programResult{}, errorf(CodeInvalidAddr, "address %d, max %d", address, s.maxAddress)
	}

	page, err := s.findPage()
	if err != nil {
		return programResult{}, err
	}
	if page == noPage {
		return programResult{}, ErrNoPageFound
	}
	if transfer {
		page = 1 - page
	}

	base := s.pageBase(page)
	entry := s.next
	last := s.lastSlot(base)

	if entry == s.pageEnd(base) {
		return programResult{full: true}, nil
	}
	if entry < s.firstSlot(base) || entry > last {
		return programResult{}, errorf(CodeInvalidEntry, "next 0x%08X outside page 0x%08X", entry, base)
	}

	// Claim the slot before programming it, so a failed or torn program is
	// never followed by a second program of the same slot.
	s.next = entry + elementSize
	res := programResult{written: true, full: entry == last}

	if err := s.programSlot(entry, uint16(address), value); err != nil {
		if res.full {
			return res, withPageFull(err)
		}
		return res, err
	}

	s.table[address] = entry
	return res, nil
}

// programSlot programs one element into an empty slot and reads it back.
func (s *Store) programSlot(slot uint32, address uint16, value uint32) error {
	low, high, err := flash.ReadDoubleWord(s.dev, slot)
	if err != nil {
		return newError(CodeWriteError, err)
	}
	if !isErased(low, high) {
		return errorf(CodeElementNotEmpty, "slot 0x%08X holds 0x%08X 0x%08X", slot, low, high)
	}

	wantLow, wantHigh := Encode(address, value)
	if err := s.dev.ProgramDoubleWord(slot, wantLow, wantHigh); err != nil {
		return newError(CodeWriteError, err)
	}

	low, high, err = flash.ReadDoubleWord(s.dev, slot)
	if err != nil {
		return newError(CodeWriteCheckFail, err)
	}
	if low != wantLow || high != wantHigh {
		return errorf(CodeWriteCheckFail, "slot 0x%08X reads 0x%08X 0x%08X, want 0x%08X 0x%08X",
			slot, low, high, wantLow, wantHigh)
	}
	return nil
}

// WriteWord stores value under address. When the write leaves the active page
// full, the page is compacted before WriteWord returns, even if programming
// the last slot failed; that failure is then reported with the PageFull flag.
// A failed compaction is reported with the Transfer flag and leaves the full
// page in place for the next write or Init.
func (s *Store) WriteWord(address, value uint32) (WriteResult, error) {
	if err := s.check(); err != nil {
		return WriteResult{}, err
	}

	res, err := s.program(address, value, false)
	if !res.full {
		return WriteResult{}, err
	}

	s.log.Info("active page full, compacting", zap.Uint32("address", address))
	if terr := s.transfer(); terr != nil {
		return WriteResult{}, asTransfer(terr)
	}
	if err != nil {
		return WriteResult{Compacted: true}, err
	}

	if !res.written {
		if _, err := s.program(address, value, false); err != nil {
			return WriteResult{Compacted: true}, err
		}
	}
	return WriteResult{Compacted: true}, nil
}
