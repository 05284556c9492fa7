package lora

import "golang.org/x/exp/constraints"

// Integer covers every value the bit helpers are applied to: symbol values,
// codewords, nibbles and bytes.
type Integer interface {
	constraints.Integer
}

// RevBits reverses the low k bits of v. Bits above k are dropped.
func RevBits[T Integer](v T, k int) T {
	var r T
	for i := 0; i < k; i++ {
		r = r<<1 | (v>>i)&1
	}
	return r
}

// Rev4 reverses the bit order of a nibble.
func Rev4[T Integer](v T) T {
	return RevBits(v&0xF, 4)
}

// PopCount returns the number of set bits in v.
func PopCount[T Integer](v T) int {
	n := 0
	for ; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// mod returns a mod n in [0, n).
func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// wrap maps a into [-n/2, n/2).
func wrap(a, n int) int {
	a = mod(a, n)
	if a >= n/2 {
		a -= n
	}
	return a
}

// unpackBits returns the bits of data, one per byte.
func unpackBits(data []byte, msbFirst bool) []byte {
	bits := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if msbFirst {
				bits = append(bits, (b>>(7-i))&1)
			} else {
				bits = append(bits, (b>>i)&1)
			}
		}
	}
	return bits
}

// packBits packs one-bit-per-byte input into bytes starting at offset.
// Trailing bits that do not fill a byte are dropped.
func packBits(bits []byte, offset int, msbFirst bool) []byte {
	if offset >= len(bits) {
		return nil
	}
	bits = bits[offset:]
	out := make([]byte, len(bits)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			bit := bits[i*8+j] & 1
			if msbFirst {
				b |= bit << (7 - j)
			} else {
				b |= bit << j
			}
		}
		out[i] = b
	}
	return out
}
