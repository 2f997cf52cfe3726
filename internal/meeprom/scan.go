package meeprom

import (
	"iter"

	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/flash"
)

/*
  ALGORITHM: Entry table rebuild (backward scan)
  ------------------------------------------------------------------
  Page layout:  [header][e0][e1][e2][e3][ FF ][ FF ]
                                  ^tail  ^next

  1. Start with next = end of page (assume full) and an empty table.
  2. Walk slots from the last one toward the header.
  3. Erased slots seen before any data move next down to them.
  4. The first slot holding data is the tail. If it fails parity it is a
     write cut short by power loss: skip it, its slot stays used.
  5. A slot with one word programmed and the other still erased is a failed
     write the log moved past: skip it wherever it is.
  6. Every other slot must decode. The first sighting of an address is its
     latest value, so only empty table entries are filled.
*/

// noEntry marks an address that has never been written. Flash addresses are
// never zero.
const noEntry uint32 = 0

// Slot is one element position in a page log as read from flash.
type Slot struct {
	Addr    uint32
	Low     uint32
	High    uint32
	Element Element
	// OK reports that the stored parity matches.
	OK bool
}

// Empty reports whether the slot was never programmed.
func (sl Slot) Empty() bool {
	return isErased(sl.Low, sl.High)
}

// slots yields the log of the page at base from the last slot toward the
// header. A read failure is yielded once and ends the sequence.
func (s *Store) slots(base uint32) iter.Seq2[Slot, error] {
	return func(yield func(Slot, error) bool) {
		first := s.firstSlot(base)
		for addr := s.lastSlot(base); addr >= first; addr -= elementSize {
			low, high, err := flash.ReadDoubleWord(s.dev, addr)
			if err != nil {
				yield(Slot{Addr: addr}, newError(CodeInvalidEntry, err))
				return
			}

			sl := Slot{Addr: addr, Low: low, High: high}
			sl.Element, sl.OK = Decode(low, high)
			if !yield(sl, nil) {
				return
			}
		}
	}
}

// createMap rebuilds the entry table and the next write address from the
// page at base.
func (s *Store) createMap(base uint32) error {
	s.next = s.pageEnd(base)
	clear(s.table[:s.maxAddress])

	tail := true
	for sl, err := range s.slots(base) {
		if err != nil {
			return err
		}

		if sl.Empty() {
			if tail {
				s.next = sl.Addr
			}
			continue
		}

		atTail := tail
		tail = false

		live := sl.OK && uint32(sl.Element.Address) < s.maxAddress
		if !live {
			if atTail || (!sl.OK && isTorn(sl.Low, sl.High)) {
				s.log.Warn("skipping torn element",
					zap.Uint32("slot", sl.Addr),
					zap.Uint32("low", sl.Low),
					zap.Uint32("high", sl.High),
					zap.Bool("tail", atTail))
				continue
			}
			if !sl.OK {
				return errorf(CodeParityError, "element at 0x%08X", sl.Addr)
			}
			return errorf(CodeInvalidAddr, "element at 0x%08X holds address %d", sl.Addr, sl.Element.Address)
		}

		if s.table[sl.Element.Address] == noEntry {
			s.table[sl.Element.Address] = sl.Addr
		}
	}
	return nil
}

// countValidElements counts the elements of the page at base that decode to
// a legal address. It breaks ties when both pages claim to be VALID.
func (s *Store) countValidElements(base uint32) (int, error) {
	var n int
	for sl, err := range s.slots(base) {
		if err != nil {
			return 0, err
		}
		if sl.Empty() || !sl.OK {
			continue
		}
		if uint32(sl.Element.Address) < s.maxAddress {
			n++
		}
	}
	return n, nil
}
