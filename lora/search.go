package lora

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/sigurn/crc16"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxSearchCandidates caps the CRC comparisons of one compatibility search.
	MaxSearchCandidates = 1 << 25

	maxSlides       = 8
	maxByteOffsets  = 8
	maxScanLen      = 64
	definitiveLen   = 8
	nibblePackings  = 2
	bitPackingStart = 8
)

// Packing turns a nibble stream into bytes. The zero value is the canonical
// low-nibble-first packing.
type Packing struct {
	// BitLevel packs the nibbles' bits (each nibble LSB first) instead of
	// whole nibbles.
	BitLevel bool
	// Offset is skipped nibbles (nibble level) or bits (bit level).
	Offset int
	// HighFirst puts the first nibble, or the first bit, in the high end of
	// each byte.
	HighFirst bool
}

func (p Packing) String() string {
	level := "nibble"
	if p.BitLevel {
		level = "bit"
	}
	order := "low"
	if p.HighFirst {
		order = "high"
	}
	return fmt.Sprintf("%s/%d/%s", level, p.Offset, order)
}

// Packings enumerates the packings in search order, canonical first.
func Packings() []Packing {
	var out []Packing
	for off := 0; off < nibblePackings; off++ {
		out = append(out, Packing{Offset: off}, Packing{Offset: off, HighFirst: true})
	}
	for off := 0; off < bitPackingStart; off++ {
		out = append(out, Packing{BitLevel: true, Offset: off}, Packing{BitLevel: true, Offset: off, HighFirst: true})
	}
	return out
}

// Pack packs nib into bytes. A trailing partial byte is dropped.
func (p Packing) Pack(nib []int) []byte {
	if !p.BitLevel {
		if p.Offset >= len(nib) {
			return nil
		}
		nib = nib[p.Offset:]
		out := make([]byte, len(nib)/2)
		for i := range out {
			lo, hi := byte(nib[2*i]&0xF), byte(nib[2*i+1]&0xF)
			if p.HighFirst {
				lo, hi = hi, lo
			}
			out[i] = lo | hi<<4
		}
		return out
	}
	bits := make([]byte, 0, 4*len(nib))
	for _, n := range nib {
		for i := 0; i < 4; i++ {
			bits = append(bits, byte(n>>i)&1)
		}
	}
	return packBits(bits, p.Offset, p.HighFirst)
}

// slide shifts a byte stream left by k bits.
func slide(b []byte, k int) []byte {
	if k == 0 {
		return b
	}
	return packBits(unpackBits(b, true), k, true)
}

// searcher holds the state shared by the workers of one payload search.
type searcher struct {
	p         PayloadParams
	values    []int
	modes     []WhiteningMode
	seqs      [][]byte
	evaluated atomic.Int64
}

func newSearcher(p PayloadParams) *searcher {
	s := &searcher{p: p, modes: WhiteningModes()}
	s.seqs = make([][]byte, len(s.modes))
	for i, m := range s.modes {
		s.seqs[i] = m.Sequence(MaxPayloadLen)
	}
	return s
}

// maxLen is the longest payload length scanned in a window of avail bytes.
func (s *searcher) maxLen(avail, limit int) int {
	if s.p.ExactLen > 0 {
		return s.p.ExactLen
	}
	return min(avail-2, limit)
}

// scan looks for a payload length and whitening mode under which the window's
// dewhitened prefix matches the two bytes that follow it. Lengths are scanned
// upwards with every mode at each length. It returns the first definitive
// match, or else the first short one, and the number of comparisons made.
func (s *searcher) scan(w []byte, modes []WhiteningMode, maxLen int) (*PayloadMatch, int64) {
	maxLen = min(maxLen, len(w)-2, MaxPayloadLen)
	if maxLen < 1 {
		return nil, 0
	}
	minLen := 1
	if s.p.ExactLen > 0 {
		minLen = s.p.ExactLen
	}
	crcs := make([]uint16, len(modes))
	plain := make([][]byte, len(modes))
	for i, m := range modes {
		seq := s.sequence(m)
		d := make([]byte, maxLen)
		for j := range d {
			d[j] = w[j] ^ seq[j]
		}
		plain[i] = d
		crcs[i] = crc16.Init(crcTable)
	}
	var short *PayloadMatch
	var n int64
	defer func() { s.evaluated.Add(n) }()
	for l := 1; l <= maxLen; l++ {
		for i, m := range modes {
			crcs[i] = crc16.Update(crcs[i], plain[i][l-1:l], crcTable)
			if l < minLen {
				continue
			}
			n++
			crc := crc16.Complete(crcs[i], crcTable)
			if w[l] != byte(crc) || w[l+1] != byte(crc>>8) {
				continue
			}
			match := &PayloadMatch{Len: l, Whitening: m}
			if l >= definitiveLen || l == s.p.ExactLen {
				match.definitive = true
				return match, n
			}
			if short == nil {
				short = match
			}
		}
	}
	return short, n
}

func (s *searcher) sequence(m WhiteningMode) []byte {
	for i, mm := range s.modes {
		if mm == m {
			return s.seqs[i]
		}
	}
	return m.Sequence(MaxPayloadLen)
}

// searchMapping evaluates every packing, slide and offset of one mapping.
// It gives up once a lower indexed mapping has found a definitive match.
func (s *searcher) searchMapping(ctx context.Context, index int, m Mapping, h *Hamming, best *atomic.Int64) *PayloadMatch {
	nib, ok := decodeNibbles(s.values, s.p.rows(), m, h, false)
	if !ok {
		return nil
	}
	budget := int64(MaxSearchCandidates / len(Mappings(h.Len())))
	var spent int64
	seen := make(map[string]struct{})
	var short *PayloadMatch
	for _, pk := range Packings() {
		if ctx.Err() != nil || best.Load() < int64(index) {
			return short
		}
		packed := pk.Pack(nib)
		for sl := 0; sl < maxSlides; sl++ {
			slid := slide(packed, sl)
			for off := 0; off < maxByteOffsets && off+3 <= len(slid); off++ {
				w := slid[off:]
				key := string(w)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if spent > budget {
					return short
				}
				match, n := s.scan(w, s.modes, s.maxLen(len(w), maxScanLen))
				spent += n
				if match == nil {
					continue
				}
				match.Mapping, match.Packing, match.Slide, match.Offset = m, pk, sl, off
				if match.definitive {
					return match
				}
				if short == nil {
					short = match
				}
			}
		}
	}
	return short
}

// search runs the compatibility search over every mapping in parallel. The
// definitive match of the lowest indexed mapping wins; failing that the
// lowest indexed short match.
func (s *searcher) search(ctx context.Context, values []int, h *Hamming) (*PayloadMatch, error) {
	s.values = values
	mappings := Mappings(h.Len())
	results := make([]*PayloadMatch, len(mappings))
	var best atomic.Int64
	best.Store(math.MaxInt64)

	g, gctx := errgroup.WithContext(ctx)
	workers := s.p.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i, m := range mappings {
		if best.Load() < int64(i) {
			break
		}
		g.Go(func() error {
			if best.Load() < int64(i) {
				return nil
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			match := s.searchMapping(gctx, i, m, h, &best)
			results[i] = match
			if match != nil && match.definitive {
				for {
					cur := best.Load()
					if cur <= int64(i) || best.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var short *PayloadMatch
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.definitive {
			return r, nil
		}
		if short == nil {
			short = r
		}
	}
	return short, nil
}
