package meeprom

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvaleed/meeprom/internal/flash"
)

func TestDump(t *testing.T) {
	s, dev := newFormattedStore(t, 1, 16)
	for _, p := range []Pair{{1, 0x10}, {2, 0x20}, {1, 0x11}} {
		_, err := s.WriteWord(p.Address, p.Value)
		require.NoError(t, err)
	}

	t.Run("whole log", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf, 0))
		out := buf.String()

		require.Contains(t, out, "Page 0 @ 0x1000D000: INVALID\n")
		require.Contains(t, out, "Page 1 @ 0x1000E000: VALID\n")
		require.Contains(t, out, "Element #0 @ 0x1000E008\n  Address: 1\n  Value:   0x00000010\n  Status:  ok\n")
		require.Contains(t, out, "Element #1 @ 0x1000E010\n  Address: 2\n  Value:   0x00000020\n  Status:  live\n")
		require.Contains(t, out, "Element #2 @ 0x1000E018\n  Address: 1\n  Value:   0x00000011\n  Status:  live\n")
		require.Contains(t, out, "Total: 3 elements, 508 free slots\n")
	})

	t.Run("head", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf, 1))
		require.Contains(t, buf.String(), "Element #0")
		require.NotContains(t, buf.String(), "Element #1")
	})

	t.Run("torn element", func(t *testing.T) {
		require.NoError(t, dev.ProgramDoubleWord(s.Next(), 0x1234, flash.ErasedWord))

		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf, 0))
		require.Contains(t, buf.String(), "Element #3 @ 0x1000E020\n  Address: 65535\n  Value:   0x00001234\n  Status:  PARITY\n")
	})
}

func TestDump_NoActivePage(t *testing.T) {
	s, _ := newTestStore(t, 1, 16)

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf, 0))
	require.Equal(t, "Page 0 @ 0x1000D000: INVALID\nPage 1 @ 0x1000E000: INVALID\nNo active page\n", buf.String())
}
