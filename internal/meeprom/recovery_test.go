package meeprom

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mvaleed/meeprom/internal/flash"
)

// writePage programs a raw page: header words followed by elements.
func writePage(t *testing.T, dev flash.Driver, base uint32, header [2]uint32, elems ...Element) {
	t.Helper()
	require.NoError(t, dev.ProgramDoubleWord(base, header[0], header[1]))
	for i, e := range elems {
		low, high := Encode(e.Address, e.Value)
		require.NoError(t, dev.ProgramDoubleWord(base+headerSize+uint32(i)*elementSize, low, high))
	}
}

func validHeader() [2]uint32 {
	return [2]uint32{headerMagic, headerMagic}
}

func elements(n int) []Element {
	elems := make([]Element, n)
	for i := range elems {
		elems[i] = Element{Address: uint16(i % 16), Value: uint32(i)}
	}
	return elems
}

// flakyHeader returns zeros for the header at base until it has been read
// reads times.
type flakyHeader struct {
	*flash.MemFlash
	base  uint32
	reads int
}

func (f *flakyHeader) ReadWord(addr uint32) (uint32, error) {
	if f.reads > 0 && (addr == f.base || addr == f.base+4) {
		if addr == f.base+4 {
			f.reads--
		}
		return 0, nil
	}
	return f.MemFlash.ReadWord(addr)
}

func TestInit_TornTail(t *testing.T) {
	t.Run("half programmed element", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)
		for a := range uint32(3) {
			_, err := s.WriteWord(a, a+100)
			require.NoError(t, err)
		}
		torn := s.Next()
		require.NoError(t, dev.ProgramDoubleWord(torn, 0xABCD1234, flash.ErasedWord))

		core, logs := observer.New(zap.WarnLevel)
		cfg := testConfig(1, 16)
		cfg.Logger = zap.New(core)
		r := New(dev, cfg)
		require.NoError(t, r.Init())

		require.Equal(t, 1, logs.FilterMessage("skipping torn element").Len())
		require.Equal(t, torn+elementSize, r.Next())
		requireValues(t, r, map[uint32]uint32{0: 100, 1: 101, 2: 102})

		_, err := r.WriteWord(1, 7)
		require.NoError(t, err)
		require.Equal(t, torn+elementSize, r.Entry(1))
	})

	t.Run("power lost during write", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)
		_, err := s.WriteWord(7, 1)
		require.NoError(t, err)

		dev.ProgramHook = func(addr uint32, low, high uint32) (uint32, uint32, error) {
			return low, flash.ErasedWord, flash.ErrPowerLoss
		}
		_, err = s.WriteWord(7, 2)
		require.ErrorIs(t, err, ErrWrite)
		require.ErrorIs(t, err, flash.ErrPowerLoss)

		dev.ProgramHook = nil
		r := reopen(t, s, dev)
		v, err := r.ReadWord(7)
		require.NoError(t, err)
		require.Equal(t, uint32(1), v)
	})

	t.Run("failed write inside the log", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)
		_, err := s.WriteWord(1, 100)
		require.NoError(t, err)
		_, err = s.WriteWord(2, 200)
		require.NoError(t, err)

		dev.ProgramHook = func(addr uint32, low, high uint32) (uint32, uint32, error) {
			return low, flash.ErasedWord, flash.ErrTimeout
		}
		_, err = s.WriteWord(2, 201)
		require.ErrorIs(t, err, ErrWrite)

		dev.ProgramHook = nil
		_, err = s.WriteWord(3, 300)
		require.NoError(t, err)

		core, logs := observer.New(zap.WarnLevel)
		cfg := testConfig(1, 16)
		cfg.Logger = zap.New(core)
		r := New(dev, cfg)
		require.NoError(t, r.Init())

		require.Equal(t, 1, logs.FilterMessage("skipping torn element").Len())
		require.Equal(t, s.Next(), r.Next())
		requireValues(t, r, map[uint32]uint32{1: 100, 2: 200, 3: 300})
	})

	t.Run("low word missing inside the log", func(t *testing.T) {
		dev := flash.NewMem(flash.DefaultGeometry)
		writePage(t, dev, testBase, validHeader(), Element{Address: 1, Value: 1})
		_, high := Encode(2, 2)
		require.NoError(t, dev.ProgramDoubleWord(testBase+headerSize+elementSize, flash.ErasedWord, high))
		writePage(t, dev, testBase+2*elementSize, [2]uint32{flash.ErasedWord, flash.ErasedWord}, Element{Address: 3, Value: 3})

		s := New(dev, testConfig(1, 16))
		require.NoError(t, s.Init())
		requireValues(t, s, map[uint32]uint32{1: 1, 3: 3})
	})

	t.Run("address out of range at tail", func(t *testing.T) {
		dev := flash.NewMem(flash.DefaultGeometry)
		base := testBase
		writePage(t, dev, base, validHeader(), Element{Address: 1, Value: 1}, Element{Address: 200, Value: 2})

		s := New(dev, testConfig(1, 16))
		require.NoError(t, s.Init())
		require.Equal(t, base+headerSize+2*elementSize, s.Next())
		requireValues(t, s, map[uint32]uint32{1: 1})
	})
}

func TestInit_Corruption(t *testing.T) {
	t.Run("parity failure inside the log", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)
		first := s.Next()
		for _, v := range []uint32{0x12345678, 2, 3} {
			_, err := s.WriteWord(1, v)
			require.NoError(t, err)
		}
		require.NoError(t, dev.ProgramDoubleWord(first, 0, flash.ErasedWord))

		r := New(dev, testConfig(1, 16))
		err := r.Init()
		require.ErrorIs(t, err, ErrParity)
		require.Equal(t, uint32(CodeParityError), Status(err))
	})

	t.Run("address out of range inside the log", func(t *testing.T) {
		dev := flash.NewMem(flash.DefaultGeometry)
		writePage(t, dev, testBase, validHeader(),
			Element{Address: 1, Value: 1},
			Element{Address: 200, Value: 2},
			Element{Address: 3, Value: 3})

		s := New(dev, testConfig(1, 16))
		require.ErrorIs(t, s.Init(), ErrInvalidAddr)
	})

	t.Run("entry pointing at a foreign element", func(t *testing.T) {
		s, _ := newFormattedStore(t, 1, 16)
		_, err := s.WriteWord(1, 10)
		require.NoError(t, err)
		_, err = s.WriteWord(2, 20)
		require.NoError(t, err)

		s.table[1] = s.table[2]
		_, err = s.ReadWord(1)
		require.ErrorIs(t, err, ErrAddrMismatch)

		s.table[1] = testBase
		_, err = s.ReadWord(1)
		require.ErrorIs(t, err, ErrInvalidEntry)
	})
}

func TestInit_Headers(t *testing.T) {
	t.Run("both pages invalid", func(t *testing.T) {
		dev := flash.NewMem(flash.DefaultGeometry)
		writePage(t, dev, testBase, [2]uint32{0, 0}, elements(4)...)

		s := New(dev, testConfig(1, 16))
		require.ErrorIs(t, s.Init(), ErrInvalidHeader)
	})

	t.Run("half written header", func(t *testing.T) {
		for _, header := range [][2]uint32{
			{headerMagic, flash.ErasedWord},
			{flash.ErasedWord, headerMagic},
		} {
			dev := flash.NewMem(flash.DefaultGeometry)
			writePage(t, dev, testBase, header, elements(3)...)

			s := New(dev, testConfig(1, 16))
			require.NoError(t, s.Init())
			page, err := s.ActivePage()
			require.NoError(t, err)
			require.Equal(t, 0, page)
			require.Equal(t, testBase+headerSize+3*elementSize, s.Next())
		}
	})

	t.Run("leftover invalid page is erased", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)
		_, err := s.WriteWord(4, 40)
		require.NoError(t, err)

		page0 := s.pageBase(0)
		require.NoError(t, dev.ProgramDoubleWord(page0+0x100, 1, 2))

		r := reopen(t, s, dev)
		require.Equal(t, 1, dev.EraseCount(page0))
		require.NoError(t, dev.VerifyErase(page0, r.PageSize()))
		requireValues(t, r, map[uint32]uint32{4: 40})
	})

	t.Run("header read retried", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)
		_, err := s.WriteWord(4, 40)
		require.NoError(t, err)

		f := &flakyHeader{MemFlash: dev, base: s.pageBase(1), reads: headerReads - 1}
		r := New(f, testConfig(1, 16))
		require.NoError(t, r.Init())
		requireValues(t, r, map[uint32]uint32{4: 40})
	})

	t.Run("header unreadable on every retry", func(t *testing.T) {
		s, dev := newFormattedStore(t, 1, 16)

		f := &flakyHeader{MemFlash: dev, base: s.pageBase(1), reads: headerReads}
		r := New(f, testConfig(1, 16))
		require.ErrorIs(t, r.Init(), ErrInvalidHeader)
	})
}

func TestInit_DualValid(t *testing.T) {
	tests := []struct {
		name   string
		count0 int
		count1 int
		keep   int
	}{
		{"page 0 holds more", 8, 5, 0},
		{"page 1 holds more", 2, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := flash.NewMem(flash.DefaultGeometry)
			s := New(dev, testConfig(1, 16))
			counts := [2]int{tt.count0, tt.count1}
			for page, n := range counts {
				writePage(t, dev, s.pageBase(page), validHeader(), elements(n)...)
			}

			require.NoError(t, s.Init())
			page, err := s.ActivePage()
			require.NoError(t, err)
			require.Equal(t, tt.keep, page)

			dropped := s.pageBase(1 - tt.keep)
			require.Equal(t, 1, dev.EraseCount(dropped))
			require.NoError(t, dev.VerifyErase(dropped, s.PageSize()))
			require.Equal(t, s.firstSlot(s.pageBase(tt.keep))+uint32(counts[tt.keep])*elementSize, s.Next())
		})
	}

	t.Run("equal counts", func(t *testing.T) {
		dev := flash.NewMem(flash.DefaultGeometry)
		s := New(dev, testConfig(1, 16))
		writePage(t, dev, s.pageBase(0), validHeader(), elements(5)...)
		writePage(t, dev, s.pageBase(1), validHeader(), elements(5)...)

		require.ErrorIs(t, s.Init(), ErrInvalidHeader)
		require.Zero(t, dev.EraseCount(s.pageBase(0)))
		require.Zero(t, dev.EraseCount(s.pageBase(1)))
	})
}

func TestInit_FullPage(t *testing.T) {
	s, dev := newFormattedStore(t, 1, 16)
	want := fillPage(t, s, slotsPerPage-1)

	// The last write landed but the compaction never started.
	low, high := Encode(9, 0x9999)
	require.NoError(t, dev.ProgramDoubleWord(s.Next(), low, high))
	want[9] = 0x9999

	r := reopen(t, s, dev)
	page, err := r.ActivePage()
	require.NoError(t, err)
	require.Equal(t, 0, page)
	require.Equal(t, 1, dev.EraseCount(s.pageBase(1)))
	require.Equal(t, r.firstSlot(s.pageBase(0))+16*elementSize, r.Next())
	requireValues(t, r, want)
}
