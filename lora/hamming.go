package lora

import "fmt"

// MaxCorrectableDistance is the largest Hamming distance between a received
// codeword and its nearest valid codeword that is still accepted.
const MaxCorrectableDistance = 2

// Hamming is the nibble code for one coding rate. Codewords are 4+cr bits,
// the data nibble followed by the first cr parity bits p0..p3.
type Hamming struct {
	CR  int
	enc [16]int
}

var hammingCodes [5]*Hamming

func init() {
	for cr := 1; cr <= 4; cr++ {
		h := &Hamming{CR: cr}
		for n := range h.enc {
			h.enc[n] = encodeNibble(n, cr)
		}
		hammingCodes[cr] = h
	}
}

// HammingCode returns the code for coding rate cr (1..4).
func HammingCode(cr int) (*Hamming, error) {
	if cr < 1 || cr > 4 {
		return nil, fmt.Errorf("coding rate %d out of range 1..4", cr)
	}
	return hammingCodes[cr], nil
}

func encodeNibble(n, cr int) int {
	d0 := n & 1
	d1 := n >> 1 & 1
	d2 := n >> 2 & 1
	d3 := n >> 3 & 1
	parity := [4]int{
		d3 ^ d2 ^ d1,
		d2 ^ d1 ^ d0,
		d3 ^ d2 ^ d0,
		d3 ^ d1 ^ d0,
	}
	cw := n & 0xF
	for i := 0; i < cr; i++ {
		cw = cw<<1 | parity[i]
	}
	return cw
}

func (h *Hamming) String() string {
	return fmt.Sprintf("{Hamming:4/%d}", 4+h.CR)
}

// Len is the codeword length in bits.
func (h *Hamming) Len() int { return 4 + h.CR }

// Encode returns the codeword for the low nibble of n.
func (h *Hamming) Encode(n int) int {
	return h.enc[n&0xF]
}

// Decode returns the nibble whose codeword is nearest to cw and the distance
// to it. ok is false when the distance exceeds MaxCorrectableDistance, in which
// case the nibble must not be used. Ties resolve to the lowest nibble.
func (h *Hamming) Decode(cw int) (nibble, dist int, ok bool) {
	mask := 1<<h.Len() - 1
	cw &= mask
	best, bestDist := 0, h.Len()+1
	for n, c := range h.enc {
		d := PopCount(c ^ cw)
		if d < bestDist {
			best, bestDist = n, d
			if d == 0 {
				break
			}
		}
	}
	return best, bestDist, bestDist <= MaxCorrectableDistance
}
