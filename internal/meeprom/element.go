package meeprom

import "github.com/mvaleed/meeprom/internal/flash"

/*
  Element layout (one double word, little-endian words):

  Bit:  0                31  32          47  48          63
        <--- data value -->  <- address  ->  <-  parity  ->

  parity = data[15:0] ^ data[31:16] ^ address
*/

const (
	headerSize  = 8
	elementSize = flash.DoubleWordSize

	headerMagic uint32 = 0x1ACCE551

	addressMask uint32 = 0x0000FFFF
)

// Element is one decoded log record.
type Element struct {
	Address uint16
	Value   uint32
}

// Parity returns the 16-bit check over address and value.
func Parity(address uint16, value uint32) uint16 {
	return uint16(value) ^ uint16(value>>16) ^ address
}

// Encode returns the low and high words that store address and value.
func Encode(address uint16, value uint32) (uint32, uint32) {
	return value, uint32(Parity(address, value))<<16 | uint32(address)
}

// Decode returns the element held in low and high. ok is false when the
// stored parity does not match, e.g. for a torn write.
func Decode(low, high uint32) (Element, bool) {
	e := Element{
		Address: uint16(high & addressMask),
		Value:   low,
	}
	return e, uint16(high>>16) == Parity(e.Address, e.Value)
}

func isErased(low, high uint32) bool {
	return low == flash.ErasedWord && high == flash.ErasedWord
}

// isTorn reports a program that stopped after one of the two words.
func isTorn(low, high uint32) bool {
	return (low == flash.ErasedWord) != (high == flash.ErasedWord)
}
