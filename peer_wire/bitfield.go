package peer_wire

import "math/bits"

//BitField is zero based index. The high bit of the first byte is piece 0.
type BitField []byte

//BfLen returns how many bytes a bitfield of numPieces pieces occupies.
func BfLen(numPieces int) int {
	return (numPieces + 7) / 8
}

func NewBitField(numPieces int) BitField {
	return make([]byte, BfLen(numPieces))
}

//HasPiece reports whether piece i is set. Indices beyond the bitfield are unset.
func (bf BitField) HasPiece(i int) bool {
	index := i / 8
	if i < 0 || index >= len(bf) {
		return false
	}
	mask := byte(1 << (7 - uint(i)%8))
	return bf[index]&mask > 0
}

func (bf BitField) SetPiece(i int) {
	index := i / 8
	mask := byte(1 << (7 - uint(i)%8))
	bf[index] |= mask
}

func (bf BitField) BitsSet() (sum int) {
	for i := 0; i < len(bf); i++ {
		sum += bits.OnesCount8(bf[i])
	}
	return
}

//Valid reports whether bf has the right length for numPieces pieces and
//its spare trailing bits are cleared.
func (bf BitField) Valid(numPieces int) bool {
	if len(bf) != BfLen(numPieces) {
		return false
	}
	for i := numPieces; i < len(bf)*8; i++ {
		if bf.HasPiece(i) {
			return false
		}
	}
	return true
}
