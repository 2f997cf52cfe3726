package meeprom

import (
	"fmt"
	"io"
	"slices"

	"github.com/pkg/errors"
)

// Dump prints both page headers and the log of the active page, oldest
// element first, for debugging. head limits the number of elements printed;
// zero prints all of them.
func (s *Store) Dump(w io.Writer, head int) error {
	if err := s.check(); err != nil {
		return err
	}

	for page := range 2 {
		base := s.pageBase(page)
		st, err := s.pageState(base)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Page %d @ 0x%08X: %s\n", page, base, st)
	}

	page, err := s.findPage()
	if err != nil {
		return err
	}
	if page == noPage {
		fmt.Fprintln(w, "No active page")
		return nil
	}

	var used []Slot
	for sl, err := range s.slots(s.pageBase(page)) {
		if err != nil {
			return errors.WithStack(err)
		}
		if !sl.Empty() {
			used = append(used, sl)
		}
	}
	slices.Reverse(used)

	fmt.Fprintln(w)
	for i, sl := range used {
		if head > 0 && i == head {
			break
		}
		status := "ok"
		switch {
		case !sl.OK:
			status = "PARITY"
		case s.Entry(uint32(sl.Element.Address)) == sl.Addr:
			status = "live"
		}
		fmt.Fprintf(w, "Element #%d @ 0x%08X\n", i, sl.Addr)
		fmt.Fprintf(w, "  Address: %d\n", sl.Element.Address)
		fmt.Fprintf(w, "  Value:   0x%08X\n", sl.Element.Value)
		fmt.Fprintf(w, "  Status:  %s\n", status)
	}

	free, err := s.FreeSlots()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTotal: %d elements, %d free slots\n", len(used), free)
	return nil
}
