package meeprom

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/flash"
)

// Pair is one address/value update.
type Pair struct {
	Address uint32
	Value   uint32
}

// Stage is a spare flash sector that holds a batch of pairs when the active
// page cannot take them without compacting. Pairs are stored as raw double
// words, address in the low word.
type Stage struct {
	Driver flash.Driver
	// Addr is the first address of the staging sector.
	Addr uint32
	// Size is the sector size in bytes.
	Size uint32
}

func (st Stage) capacity() int {
	return int(st.Size / flash.DoubleWordSize)
}

// WriteBatch stores pairs without ever triggering a compaction, so it can run
// inside a power-fail deadline. When the active page has room for the whole
// batch the pairs go straight into the store; otherwise the batch is staged
// and ReplayStaged applies it at the next start. It reports whether the batch
// was staged.
func (s *Store) WriteBatch(st Stage, pairs []Pair) (bool, error) {
	for _, p := range pairs {
		if p.Address >= s.maxAddress {
			return false, errorf(CodeInvalidAddr, "address %d, max %d", p.Address, s.maxAddress)
		}
	}

	free, err := s.FreeSlots()
	if err != nil {
		return false, err
	}

	if len(pairs) < free {
		for _, p := range pairs {
			if _, err := s.WriteWord(p.Address, p.Value); err != nil {
				return false, errors.Wrapf(err, "failed to write address %d", p.Address)
			}
		}
		return false, nil
	}

	if len(pairs) > st.capacity() {
		return false, errors.Errorf("batch of %d pairs exceeds staging capacity %d", len(pairs), st.capacity())
	}

	if err := st.Driver.VerifyErase(st.Addr, st.Size); err != nil {
		return false, errors.Wrap(err, "staging sector holds a batch not yet replayed")
	}

	s.log.Info("staging batch", zap.Int("pairs", len(pairs)), zap.Int("free", free))
	for i, p := range pairs {
		addr := st.Addr + uint32(i)*flash.DoubleWordSize
		if err := st.Driver.ProgramDoubleWord(addr, p.Address, p.Value); err != nil {
			return true, errors.Wrapf(err, "failed to stage pair %d", i)
		}
	}
	return true, nil
}

// ReplayStaged writes every staged pair into the store and erases the
// staging sector. Pairs naming an address outside the store are dropped. It
// returns the number of pairs replayed. On a flash error the sector is kept so
// the next start replays it again.
func (s *Store) ReplayStaged(st Stage) (int, error) {
	low, high, err := flash.ReadDoubleWord(st.Driver, st.Addr)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if isErased(low, high) {
		return 0, nil
	}

	var replayed, skipped int
	for i := range st.capacity() {
		addr := st.Addr + uint32(i)*flash.DoubleWordSize
		address, value, err := flash.ReadDoubleWord(st.Driver, addr)
		if err != nil {
			return replayed, errors.WithStack(err)
		}
		if isErased(address, value) {
			break
		}
		if _, err := s.WriteWord(address, value); err != nil {
			if errors.Is(err, ErrInvalidAddr) {
				s.log.Warn("dropping staged pair", zap.Uint32("address", address), zap.Uint32("value", value))
				skipped++
				continue
			}
			return replayed, errors.Wrapf(err, "failed to replay address %d", address)
		}
		replayed++
	}

	s.log.Info("replayed staged batch", zap.Int("pairs", replayed), zap.Int("dropped", skipped))
	if err := st.Driver.EraseSector(st.Addr); err != nil {
		return replayed, errors.Wrap(err, "failed to erase staging sector")
	}
	return replayed, nil
}
