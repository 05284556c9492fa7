package lora

import (
	"fmt"
	"log"

	"github.com/icza/gog"
)

const (
	headerCWLen  = 8
	headerOffset = 44
	headerNibs   = 5

	canonicalHeaderBonus = 1000
)

// HeaderFields are the explicit header contents.
type HeaderFields struct {
	PayloadLen int
	CR         int
	HasCRC     bool
}

func (h HeaderFields) String() string {
	return fmt.Sprintf("{PayloadLen:%d CR:%d HasCRC:%t}", h.PayloadLen, h.CR, h.HasCRC)
}

// HeaderSymbolCount is the number of symbols carrying the header at sf.
func HeaderSymbolCount(sf int) int {
	return (80 + sf*8 - 1) / (sf * 8) * 8
}

// headerChecksum computes the 5 check bits c4..c0 over the first three header
// nibbles.
func headerChecksum(n0, n1, n2 int) int {
	bit := func(n, i int) int { return n >> i & 1 }
	c4 := bit(n0, 3) ^ bit(n0, 2) ^ bit(n0, 1) ^ bit(n0, 0)
	c3 := bit(n0, 3) ^ bit(n1, 3) ^ bit(n1, 2) ^ bit(n1, 1) ^ bit(n2, 0)
	c2 := bit(n0, 2) ^ bit(n1, 3) ^ bit(n1, 0) ^ bit(n2, 3) ^ bit(n2, 1)
	c1 := bit(n0, 1) ^ bit(n1, 2) ^ bit(n1, 0) ^ bit(n2, 2) ^ bit(n2, 1) ^ bit(n2, 0)
	c0 := bit(n0, 0) ^ bit(n1, 1) ^ bit(n2, 3) ^ bit(n2, 2) ^ bit(n2, 1) ^ bit(n2, 0)
	return c4<<4 | c3<<3 | c2<<2 | c1<<1 | c0
}

// checkHeader validates the checksum carried in nibbles 3 and 4.
func checkHeader(nib []int) bool {
	if len(nib) < headerNibs {
		return false
	}
	c := headerChecksum(nib[0], nib[1], nib[2])
	return nib[3]&1 == c>>4 && nib[4]&0xF == c&0xF
}

// headerNibbles builds the five header nibbles for f.
func headerNibbles(f HeaderFields) []int {
	n0 := f.PayloadLen >> 4 & 0xF
	n1 := f.PayloadLen & 0xF
	n2 := (f.CR&0x7)<<1 | gog.If(f.HasCRC, 1, 0)
	c := headerChecksum(n0, n1, n2)
	return []int{n0, n1, n2, c >> 4, c & 0xF}
}

// headerValue recovers the sf-2 bit value carried by a header symbol.
func headerValue(s, sf int) int {
	return GrayDecode(mod(s-headerOffset, 1<<sf) / 4)
}

// headerSymbol is the inverse of headerValue.
func headerSymbol(v, sf int) int {
	return mod(GrayEncode(v)*4+headerOffset, 1<<sf)
}

// HeaderOptions carries what the caller expects the header to contain. The
// expectations only rank checksum-valid candidates.
type HeaderOptions struct {
	SF int
	// ExpectCR is the configured coding rate, zero for no preference.
	ExpectCR  int
	ExpectCRC bool
}

// HeaderCandidate is a checksum-valid header decode.
type HeaderCandidate struct {
	Fields  HeaderFields
	Mapping Mapping
	// Rotation is the left rotation applied to the nibble sequence.
	Rotation int
	// Swapped is set when nibble pairs were swapped.
	Swapped bool
	Score   int
}

func (c HeaderCandidate) rank() int {
	return c.Mapping.Rank() + gog.If(c.Rotation != 0, 1, 0) + gog.If(c.Swapped, 1, 0)
}

func (c HeaderCandidate) String() string {
	return fmt.Sprintf("{Fields:%v Mapping:%v Rotation:%d Swapped:%t Score:%d}",
		c.Fields, c.Mapping, c.Rotation, c.Swapped, c.Score)
}

// DecodeHeader recovers the explicit header from at least
// HeaderSymbolCount(opts.SF) symbol values. Every mapping, nibble rotation
// and pair order is tried; the best scoring checksum-valid candidate wins.
func DecodeHeader(symbols []int, opts HeaderOptions) (HeaderCandidate, error) {
	sf := opts.SF
	if sf < MinSF || sf > MaxSF {
		return HeaderCandidate{}, newDecodeError(UnsupportedConfig, "spreading factor %d out of range", sf)
	}
	nsym := HeaderSymbolCount(sf)
	if len(symbols) < nsym {
		return HeaderCandidate{}, newDecodeError(HeaderChecksumFailed,
			"need %d header symbols, have %d", nsym, len(symbols))
	}
	rows := sf - 2
	values := make([]int, nsym)
	for i := range values {
		values[i] = headerValue(symbols[i], sf)
	}
	h, _ := HammingCode(4)

	var best HeaderCandidate
	found := false
	for _, m := range Mappings(headerCWLen) {
		nib, ok := decodeNibbles(values, rows, m, h, false)
		if !ok {
			continue
		}
		for rot := range nib {
			rotated := rotateCols(nib, rot)
			for _, swapped := range []bool{false, true} {
				seq := rotated
				if swapped {
					seq = swapPairs(rotated)
				}
				if !checkHeader(seq) {
					continue
				}
				c := HeaderCandidate{
					Fields: HeaderFields{
						PayloadLen: seq[0]<<4 | seq[1],
						CR:         seq[2] >> 1 & 0x7,
						HasCRC:     seq[2]&1 == 1,
					},
					Mapping:  m,
					Rotation: rot,
					Swapped:  swapped,
				}
				if c.Fields.PayloadLen == 0 || c.Fields.CR < 1 || c.Fields.CR > 4 {
					continue
				}
				c.Score = scoreHeader(c, opts)
				if !found || c.Score > best.Score || (c.Score == best.Score && c.rank() < best.rank()) {
					best, found = c, true
				}
			}
		}
	}
	if !found {
		return HeaderCandidate{}, newDecodeError(HeaderChecksumFailed, "no mapping of %d header symbols passed the checksum", nsym)
	}
	log.Printf("[DEBUG] header %v", best)
	return best, nil
}

func scoreHeader(c HeaderCandidate, opts HeaderOptions) int {
	score := 0
	if c.Fields.HasCRC == opts.ExpectCRC {
		score += 200
	}
	if opts.ExpectCR != 0 && c.Fields.CR == opts.ExpectCR {
		score += 300
	}
	score += 64 - min(64, c.Fields.PayloadLen)
	// Simplicity. A valid canonical reading outranks every alternative.
	if r := c.rank(); r == 0 {
		score += canonicalHeaderBonus
	} else {
		score += 10 * (8 - r)
	}
	return score
}

// decodeNibbles decodes every whole block of values under m.
func decodeNibbles(values []int, rows int, m Mapping, h *Hamming, force bool) ([]int, bool) {
	cw := h.Len()
	nib := make([]int, 0, len(values)/cw*rows)
	ok := true
	for b := 0; b+cw <= len(values); b += cw {
		n, good := m.DecodeBlock(values[b:b+cw], rows, h, force)
		if !good {
			if !force {
				return nil, false
			}
			ok = false
		}
		nib = append(nib, n...)
	}
	return nib, ok
}

// swapPairs exchanges nibbles 2i and 2i+1.
func swapPairs(nib []int) []int {
	out := make([]int, len(nib))
	copy(out, nib)
	for i := 0; i+1 < len(out); i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

// EncodeHeaderSymbols returns the HeaderSymbolCount(sf) symbol values carrying
// f under m. Nibbles after the five header nibbles are zero.
func EncodeHeaderSymbols(f HeaderFields, sf int, m Mapping) ([]int, error) {
	if sf < MinSF || sf > MaxSF {
		return nil, fmt.Errorf("spreading factor %d out of range %d..%d", sf, MinSF, MaxSF)
	}
	if f.PayloadLen < 1 || f.PayloadLen > MaxPayloadLen {
		return nil, fmt.Errorf("payload length %d out of range 1..%d", f.PayloadLen, MaxPayloadLen)
	}
	rows := sf - 2
	nsym := HeaderSymbolCount(sf)
	nib := make([]int, nsym/headerCWLen*rows)
	copy(nib, headerNibbles(f))
	h, _ := HammingCode(4)
	symbols := make([]int, 0, nsym)
	for b := 0; b < len(nib); b += rows {
		for _, v := range m.EncodeBlock(nib[b:b+rows], h) {
			symbols = append(symbols, headerSymbol(v, sf))
		}
	}
	return symbols, nil
}
