package meeprom

import (
	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/flash"
)

// PageState is the state recorded in a page header.
type PageState uint8

const (
	// PageInvalid covers erased, receiving and corrupt pages.
	PageInvalid PageState = iota
	// PageValid marks the page holding live data.
	PageValid
)

func (ps PageState) String() string {
	if ps == PageValid {
		return "VALID"
	}
	return "INVALID"
}

const (
	noPage = -1

	// headerReads is how many times Init reads a header before accepting
	// INVALID.
	headerReads = 3
)

func (s *Store) pageSize() uint32 {
	return s.sectorsPerPage * s.geometry.SectorSize
}

func (s *Store) pageBase(page int) uint32 {
	return s.base + uint32(page)*s.pageSize()
}

func (s *Store) firstSlot(base uint32) uint32 {
	return base + headerSize
}

func (s *Store) lastSlot(base uint32) uint32 {
	return base + s.pageSize() - elementSize
}

func (s *Store) pageEnd(base uint32) uint32 {
	return base + s.pageSize()
}

// pageState reads the header at base. One magic word is enough, so a header
// program torn between its two words still counts as VALID.
func (s *Store) pageState(base uint32) (PageState, error) {
	low, high, err := flash.ReadDoubleWord(s.dev, base)
	if err != nil {
		return PageInvalid, newError(CodeNoPageFound, err)
	}
	if low == headerMagic || high == headerMagic {
		return PageValid, nil
	}
	return PageInvalid, nil
}

// readPageStates reads both headers, retrying each until VALID or
// headerReads attempts.
func (s *Store) readPageStates() ([2]PageState, error) {
	var states [2]PageState
	for page := range states {
		for range headerReads {
			st, err := s.pageState(s.pageBase(page))
			if err != nil {
				return states, err
			}
			states[page] = st
			if st == PageValid {
				break
			}
		}
	}
	return states, nil
}

// findPage returns the active page index, or noPage.
func (s *Store) findPage() (int, error) {
	for page := range 2 {
		st, err := s.pageState(s.pageBase(page))
		if err != nil {
			return noPage, err
		}
		if st == PageValid {
			return page, nil
		}
	}
	return noPage, nil
}

// setPageState marks the page at base VALID and confirms it reads back so.
func (s *Store) setPageState(base uint32) error {
	if err := s.dev.ProgramDoubleWord(base, headerMagic, headerMagic); err != nil {
		return newError(CodePageHeaderError, err)
	}
	st, err := s.pageState(base)
	if err != nil {
		return newError(CodePageHeaderError, err)
	}
	if st != PageValid {
		return errorf(CodePageHeaderError, "header at 0x%08X did not read back VALID", base)
	}
	return nil
}

// erasePage erases every sector of the page at base, stopping at the first
// failure.
func (s *Store) erasePage(base uint32) error {
	for i := range s.sectorsPerPage {
		if err := s.dev.EraseSector(base + i*s.geometry.SectorSize); err != nil {
			return newError(CodeEraseError, err)
		}
	}
	return nil
}

// eraseAndVerify erases the page at base and confirms it reads erased.
func (s *Store) eraseAndVerify(base uint32) error {
	if err := s.erasePage(base); err != nil {
		return err
	}
	if err := s.dev.VerifyErase(base, s.pageSize()); err != nil {
		return newError(CodeEraseError, err)
	}
	return nil
}

// verifyErasePage erases the page at base unless it already reads erased.
// It reports whether an erase was issued.
func (s *Store) verifyErasePage(base uint32) (bool, error) {
	if err := s.dev.VerifyErase(base, s.pageSize()); err == nil {
		return false, nil
	}
	s.log.Debug("erasing page", zap.Uint32("base", base))
	return true, s.eraseAndVerify(base)
}
