package meeprom

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

/*
  Compaction order, chosen so that a power loss at any point leaves a state
  Init can recover from:

  1. erase the receiving page         old VALID, new erased
  2. copy every live value            old VALID, new INVALID with data
  3. mark the receiving page VALID    both VALID, new holds fewer elements
  4. erase the old page               new VALID
*/

// transfer compacts the active page into the other page.
func (s *Store) transfer() error {
	page, err := s.findPage()
	if err != nil {
		return err
	}
	if page == noPage {
		return ErrNoPageFound
	}

	oldBase, newBase := s.pageBase(page), s.pageBase(1-page)
	if _, err := s.verifyErasePage(newBase); err != nil {
		return err
	}

	s.next = s.firstSlot(newBase)
	if err := s.moveLive(oldBase, newBase); err != nil {
		s.resync(oldBase)
		return err
	}
	return nil
}

// resync points the control block at whichever page is active after a
// failed compaction. That is the old page unless the new one was already
// marked VALID and comes first. The old page is full, so the next WriteWord
// starts the compaction over.
func (s *Store) resync(oldBase uint32) {
	page, err := s.findPage()
	if err != nil || page == noPage || s.pageBase(page) != oldBase {
		return
	}
	if err := s.createMap(oldBase); err != nil {
		s.log.Warn("failed to rebuild entry table after compaction failure", zap.Error(err))
	}
}

// completeTransfer finishes a compaction when Init finds the active page
// full.
func (s *Store) completeTransfer() error {
	page0, page1 := s.pageBase(0), s.pageBase(1)

	var oldBase, newBase uint32
	switch s.next {
	case s.pageEnd(page1):
		oldBase, newBase = page1, page0
	case s.pageEnd(page0):
		oldBase, newBase = page0, page1
	default:
		return nil
	}

	s.log.Info("active page full at init, compacting", zap.Uint32("from", oldBase), zap.Uint32("to", newBase))
	s.next = s.firstSlot(newBase)
	if err := s.moveLive(oldBase, newBase); err != nil {
		return asTransfer(err)
	}
	return nil
}

// moveLive copies the latest value of every address into the page at
// newBase, then makes it the active page and erases the page at oldBase.
// s.next must already point at the first slot of newBase.
func (s *Store) moveLive(oldBase, newBase uint32) error {
	var moved int
	for address := range s.maxAddress {
		v, err := s.ReadWord(address)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.program(address, v, true); err != nil {
			return err
		}
		moved++
	}

	if err := s.setPageState(newBase); err != nil {
		return err
	}
	if err := s.eraseAndVerify(oldBase); err != nil {
		return err
	}

	s.log.Info("compacted",
		zap.Uint32("from", oldBase),
		zap.Uint32("to", newBase),
		zap.Int("moved", moved))
	return nil
}
