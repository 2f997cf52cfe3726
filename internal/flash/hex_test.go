package flash

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHex_RoundTrip(t *testing.T) {
	src := NewMem(DefaultGeometry)
	base := DefaultGeometry.MainBase + 0xD000
	words := map[uint32][2]uint32{
		base:        {0x1ACCE551, 0x1ACCE551},
		base + 0x08: {0x12345678, 0x44490005},
		base + 0x10: {0x00000000, 0x00000001},
		base + 0x80: {0xFFFFFFFF, 0xFFFF00FF},
	}
	for addr, w := range words {
		require.NoError(t, src.ProgramDoubleWord(addr, w[0], w[1]))
	}

	var buf bytes.Buffer
	require.NoError(t, ExportHex(&buf, src, base, 0x1000))
	require.Contains(t, buf.String(), ":00000001FF")

	dst := NewMem(DefaultGeometry)
	n, err := ImportHex(dst, &buf)
	require.NoError(t, err)
	require.Equal(t, len(words), n)

	for a := base; a < base+0x1000; a += DoubleWordSize {
		wantLow, wantHigh, err := ReadDoubleWord(src, a)
		require.NoError(t, err)
		low, high, err := ReadDoubleWord(dst, a)
		require.NoError(t, err)
		require.Equal(t, wantLow, low, "low word at 0x%08X", a)
		require.Equal(t, wantHigh, high, "high word at 0x%08X", a)
	}
}

func TestHex_ExportBlank(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportHex(&buf, NewMem(DefaultGeometry), DefaultGeometry.MainBase, 0x1000))

	n, err := ImportHex(NewMem(DefaultGeometry), &buf)
	require.NoError(t, err)
	require.Zero(t, n)

	require.ErrorIs(t, ExportHex(&buf, NewMem(DefaultGeometry), DefaultGeometry.MainBase+4, 8), ErrMisaligned)
}

func TestHex_ImportPartialDoubleWord(t *testing.T) {
	// Three bytes at 0x10000002, after an extended linear address record.
	const image = ":020000041000EA\n" +
		":03000200AABBCCCA\n" +
		":00000001FF\n"

	dst := NewMem(DefaultGeometry)
	n, err := ImportHex(dst, strings.NewReader(image))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	low, high, err := ReadDoubleWord(dst, 0x10000000)
	require.NoError(t, err)
	require.Equal(t, uint32(0xBBAAFFFF), low)
	require.Equal(t, uint32(0xFFFFFFCC), high)
}

func TestHex_ImportInvalid(t *testing.T) {
	_, err := ImportHex(NewMem(DefaultGeometry), strings.NewReader(":zz\n"))
	require.Error(t, err)
}
