// Package meeprom emulates a word-addressed EEPROM on two pages of sector
// erasable flash. Values are appended to the active page as 8-byte elements;
// when the page fills up the live values are compacted into the other page
// and the full one is erased.
//
// A Store is not safe for concurrent use. Callers that write from an
// interrupt or power-fail handler must keep every other caller out for the
// duration of the call.
package meeprom

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/flash"
)

// Store is the control block of one emulated EEPROM.
type Store struct {
	dev      flash.Driver
	geometry flash.Geometry
	log      *zap.Logger

	base           uint32
	sectorsPerPage uint32
	maxAddress     uint32

	// next is the flash address of the next element to program.
	next uint32
	// table maps a logical address to the flash address of its latest
	// element, noEntry if never written.
	table []uint32
}

// New returns a store over dev. It touches no flash; call Init or Format
// before use.
func New(dev flash.Driver, cfg Config) *Store {
	s := &Store{
		dev:            dev,
		geometry:       flash.DefaultGeometry,
		log:            cfg.Logger,
		base:           cfg.Base,
		sectorsPerPage: cfg.SectorsPerPage,
		maxAddress:     cfg.MaxAddress,
		table:          cfg.EntryTable,
	}
	if cfg.Geometry != nil {
		s.geometry = *cfg.Geometry
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	// An oversized MaxAddress gets no table; check reports it.
	if s.table == nil && cfg.MaxAddress <= maxAddressLimit {
		s.table = make([]uint32, cfg.MaxAddress)
	}
	return s
}

// Init loads the store from flash and repairs what an interrupted erase,
// header write or compaction left behind. ErrInvalidHeader means neither page
// holds a usable store and Format is required.
func (s *Store) Init() error {
	if err := s.check(); err != nil {
		return err
	}

	states, err := s.readPageStates()
	if err != nil {
		return err
	}

	page0, page1 := s.pageBase(0), s.pageBase(1)
	log := s.log.With(zap.Stringer("page0", states[0]), zap.Stringer("page1", states[1]))

	switch {
	case states[0] == PageInvalid && states[1] == PageInvalid:
		log.Info("no valid page")
		return ErrInvalidHeader

	case states[0] == PageValid && states[1] == PageValid:
		return s.resolveDualValid(page0, page1)

	default:
		valid, invalid := page0, page1
		if states[1] == PageValid {
			valid, invalid = page1, page0
		}

		erased, err := s.verifyErasePage(invalid)
		if err != nil {
			return err
		}
		if erased {
			log.Info("erased leftover page", zap.Uint32("base", invalid))
		}
		if err := s.createMap(valid); err != nil {
			return err
		}
		return s.completeTransfer()
	}
}

// resolveDualValid keeps the page holding more elements and erases the other.
func (s *Store) resolveDualValid(page0, page1 uint32) error {
	n0, err := s.countValidElements(page0)
	if err != nil {
		return err
	}
	n1, err := s.countValidElements(page1)
	if err != nil {
		return err
	}

	log := s.log.With(zap.Int("page0Elements", n0), zap.Int("page1Elements", n1))
	if n0 == n1 {
		log.Warn("both pages valid with equal element counts")
		return ErrInvalidHeader
	}

	keep, drop := page0, page1
	if n1 > n0 {
		keep, drop = page1, page0
	}
	log.Warn("both pages valid, dropping smaller", zap.Uint32("keep", keep), zap.Uint32("drop", drop))

	if err := s.eraseAndVerify(drop); err != nil {
		return err
	}
	return s.createMap(keep)
}

// Format erases both pages, skipping pages that already read erased, and
// starts an empty store.
func (s *Store) Format() error {
	if err := s.check(); err != nil {
		return err
	}

	page0, page1 := s.pageBase(0), s.pageBase(1)

	if _, err := s.verifyErasePage(page0); err != nil {
		return err
	}
	erased1, err := s.verifyErasePage(page1)
	if err != nil {
		return err
	}

	// Alternate onto page 1 when it was already blank so page 0 is not
	// always the one taking the first log.
	active := page0
	if !erased1 {
		active = page1
	}

	clear(s.table[:s.maxAddress])
	s.next = s.firstSlot(active)

	s.log.Info("formatted", zap.Uint32("active", active))
	return s.setPageState(active)
}

// ReadWord returns the latest value written to address.
func (s *Store) ReadWord(address uint32) (uint32, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if address >= s.maxAddress {
		return 0, errorf(CodeInvalidAddr, "address %d, max %d", address, s.maxAddress)
	}

	page, err := s.findPage()
	if err != nil {
		return 0, err
	}
	if page == noPage {
		return 0, ErrNoPageFound
	}

	base := s.pageBase(page)
	entry := s.table[address]
	switch {
	case entry == noEntry:
		return 0, ErrNoData
	case entry < s.firstSlot(base) || entry > s.lastSlot(base):
		return 0, errorf(CodeInvalidEntry, "entry 0x%08X outside active page 0x%08X", entry, base)
	}

	low, high, err := flash.ReadDoubleWord(s.dev, entry)
	if err != nil {
		return 0, newError(CodeInvalidEntry, err)
	}
	e, ok := Decode(low, high)
	if !ok {
		return 0, errorf(CodeParityError, "element at 0x%08X", entry)
	}
	if uint32(e.Address) != address {
		return 0, errorf(CodeAddrMismatch, "element at 0x%08X holds address %d, want %d", entry, e.Address, address)
	}
	return e.Value, nil
}

// Values returns every address that holds a value.
func (s *Store) Values() (map[uint32]uint32, error) {
	values := make(map[uint32]uint32)
	for address := range s.maxAddress {
		v, err := s.ReadWord(address)
		if err != nil {
			if errors.Is(err, ErrNoData) {
				continue
			}
			return nil, err
		}
		values[address] = v
	}
	return values, nil
}

// ActivePage returns the index of the VALID page, or -1 if there is none.
func (s *Store) ActivePage() (int, error) {
	return s.findPage()
}

// FreeSlots returns how many elements still fit in the active page.
func (s *Store) FreeSlots() (int, error) {
	page, err := s.findPage()
	if err != nil {
		return 0, err
	}
	if page == noPage {
		return 0, ErrNoPageFound
	}
	base := s.pageBase(page)
	if s.next < s.firstSlot(base) || s.next > s.pageEnd(base) {
		return 0, errorf(CodeInvalidEntry, "next 0x%08X outside active page 0x%08X", s.next, base)
	}
	return int((s.pageEnd(base) - s.next) / elementSize), nil
}

// Next returns the flash address the next element will be programmed at.
func (s *Store) Next() uint32 {
	return s.next
}

// Entry returns the flash address of the latest element of address, or 0.
func (s *Store) Entry(address uint32) uint32 {
	if address >= uint32(len(s.table)) {
		return noEntry
	}
	return s.table[address]
}

// PageBase returns the first address of page 0 or 1.
func (s *Store) PageBase(page int) uint32 {
	return s.pageBase(page)
}

// PageSize returns the size of one page in bytes.
func (s *Store) PageSize() uint32 {
	return s.pageSize()
}

// MaxAddress returns the number of logical addresses.
func (s *Store) MaxAddress() uint32 {
	return s.maxAddress
}
