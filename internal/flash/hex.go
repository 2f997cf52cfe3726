package flash

import (
	"encoding/binary"
	"io"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

const hexLineLength = 16

// ExportHex writes the programmed contents of [addr, addr+size) as Intel HEX.
// Fully erased double words are left out so the output only carries data.
func ExportHex(w io.Writer, r Reader, addr, size uint32) error {
	if addr%DoubleWordSize != 0 || size%DoubleWordSize != 0 {
		return errors.Wrapf(ErrMisaligned, "export window 0x%08X+0x%X", addr, size)
	}

	mem := gohex.NewMemory()
	var run []byte
	runStart := addr

	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		if err := mem.AddBinary(runStart, run); err != nil {
			return errors.Wrapf(err, "failed to add segment at 0x%08X", runStart)
		}
		run = nil
		return nil
	}

	for a := addr; a < addr+size; a += DoubleWordSize {
		low, high, err := ReadDoubleWord(r, a)
		if err != nil {
			return err
		}
		if low == ErasedWord && high == ErasedWord {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if len(run) == 0 {
			runStart = a
		}
		run = binary.LittleEndian.AppendUint32(run, low)
		run = binary.LittleEndian.AppendUint32(run, high)
	}
	if err := flush(); err != nil {
		return err
	}

	return errors.WithStack(mem.DumpIntelHex(w, hexLineLength))
}

// ImportHex programs every data record of an Intel HEX stream into d and
// returns the number of double words programmed. Bytes of a double word not
// covered by the stream are left erased.
func ImportHex(d Driver, r io.Reader) (int, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return 0, errors.Wrap(err, "failed to parse intel hex")
	}

	var programmed int
	for _, segment := range mem.GetDataSegments() {
		start := segment.Address &^ (DoubleWordSize - 1)
		end := segment.Address + uint32(len(segment.Data))

		for a := start; a < end; a += DoubleWordSize {
			var buf [DoubleWordSize]byte
			for i := range buf {
				buf[i] = 0xFF
				pos := a + uint32(i)
				if pos >= segment.Address && pos < end {
					buf[i] = segment.Data[pos-segment.Address]
				}
			}

			low := binary.LittleEndian.Uint32(buf[0:4])
			high := binary.LittleEndian.Uint32(buf[4:8])
			if low == ErasedWord && high == ErasedWord {
				continue
			}
			if err := d.ProgramDoubleWord(a, low, high); err != nil {
				return programmed, errors.Wrapf(err, "failed to program 0x%08X", a)
			}
			programmed++
		}
	}
	return programmed, nil
}
