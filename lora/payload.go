package lora

import (
	"context"
	"fmt"
	"log"
)

// PayloadParams describes how the payload symbols were coded.
type PayloadParams struct {
	SF     int
	CR     int
	LDRO   bool
	HasCRC bool
	// ExactLen is the payload length from the header or the config. Zero
	// means unknown and the length is searched for.
	ExactLen int
	Search   SearchMode
	// Workers bounds the compatibility search, zero means GOMAXPROCS.
	Workers int
}

func (p PayloadParams) rows() int {
	if p.LDRO {
		return p.SF - 1
	}
	return p.SF
}

func (p PayloadParams) validate() error {
	if p.SF < MinSF || p.SF > MaxSF {
		return fmt.Errorf("spreading factor %d out of range %d..%d", p.SF, MinSF, MaxSF)
	}
	if p.CR < 1 || p.CR > 4 {
		return fmt.Errorf("coding rate %d out of range 1..4", p.CR)
	}
	if p.ExactLen < 0 || p.ExactLen > MaxPayloadLen {
		return fmt.Errorf("payload length %d out of range 0..%d", p.ExactLen, MaxPayloadLen)
	}
	return nil
}

// PayloadSymbolCount is the number of symbols carrying a payload of n bytes.
func PayloadSymbolCount(n int, p PayloadParams) int {
	bytes := n
	if p.HasCRC {
		bytes += 2
	}
	rows := p.rows()
	blocks := (2*bytes + rows - 1) / rows
	return blocks * (4 + p.CR)
}

// PayloadMatch identifies the representation that validated.
type PayloadMatch struct {
	Mapping   Mapping
	Packing   Packing
	Slide     int
	Offset    int
	Len       int
	Whitening WhiteningMode

	definitive bool
}

func (m PayloadMatch) String() string {
	return fmt.Sprintf("{Mapping:%v Packing:%v Slide:%d Offset:%d Len:%d Whitening:%v}",
		m.Mapping, m.Packing, m.Slide, m.Offset, m.Len, m.Whitening)
}

// PayloadResult is the outcome of DecodePayload. Payload always holds the
// best bytes available. Reason explains a missing CRC match.
type PayloadResult struct {
	Payload  []byte
	Verified bool
	Match    PayloadMatch
	Reason   string
	// Evaluated counts CRC comparisons made by the search.
	Evaluated int
}

// payloadValues recovers the rows bit value carried by each payload symbol.
func payloadValues(symbols []int, p PayloadParams) []int {
	rows := p.rows()
	values := make([]int, len(symbols))
	for i, s := range symbols {
		values[i] = GrayDecode(mod(s, 1<<p.SF)>>(p.SF-rows)) & (1<<rows - 1)
	}
	return values
}

// DecodePayload decodes payload symbol values. The canonical mapping is tried
// first; with p.Search == SearchCompat a bounded parallel search over
// alternative representations follows. DecodePayload never fails outright:
// without a CRC match it returns the canonical bytes unverified.
func DecodePayload(ctx context.Context, symbols []int, p PayloadParams) PayloadResult {
	if err := p.validate(); err != nil {
		return PayloadResult{Reason: err.Error()}
	}
	values := payloadValues(symbols, p)
	h, _ := HammingCode(p.CR)
	rows := p.rows()

	if !p.HasCRC {
		nib, _ := decodeNibbles(values, rows, Mapping{}, h, true)
		b := Packing{}.Pack(nib)
		n := p.ExactLen
		if n == 0 {
			n = min(len(b), MaxPayloadLen)
		}
		return PayloadResult{Payload: Dewhiten(b[:min(n, len(b))], WhiteningMode{})}
	}

	s := newSearcher(p)
	var short *PayloadMatch
	nib, ok := decodeNibbles(values, rows, Mapping{}, h, false)
	if ok {
		if m, _ := s.scan(Packing{}.Pack(nib), []WhiteningMode{{}}, s.maxLen(len(nib)/2, MaxPayloadLen)); m != nil {
			if m.definitive {
				return s.result(nib, *m)
			}
			short = m
		}
	}
	if p.Search == SearchCompat {
		m, err := s.search(ctx, values, h)
		switch {
		case err != nil:
			log.Printf("[DEBUG] payload search stopped: %v", err)
		case m != nil && (m.definitive || short == nil):
			return s.result(nil, *m)
		}
	}
	if short != nil {
		return s.result(nib, *short)
	}
	return s.fallback(values, h)
}

// result dewhitens the matched window. nib may be nil, in which case the
// match's mapping is decoded again.
func (s *searcher) result(nib []int, m PayloadMatch) PayloadResult {
	if nib == nil {
		h, _ := HammingCode(s.p.CR)
		nib, _ = decodeNibbles(s.values, s.p.rows(), m.Mapping, h, false)
	}
	w := slide(m.Packing.Pack(nib), m.Slide)[m.Offset:]
	log.Printf("[DEBUG] payload crc match %v after %d candidates", m, s.evaluated.Load())
	return PayloadResult{
		Payload:   Dewhiten(w[:m.Len], m.Whitening),
		Verified:  true,
		Match:     m,
		Evaluated: int(s.evaluated.Load()),
	}
}

// fallback returns the canonical bytes at the assumed length, unverified.
func (s *searcher) fallback(values []int, h *Hamming) PayloadResult {
	nib, _ := decodeNibbles(values, s.p.rows(), Mapping{}, h, true)
	b := Packing{}.Pack(nib)
	n := s.p.ExactLen
	var reason string
	if n > 0 {
		reason = fmt.Sprintf("header length %d but no CRC validated", n)
	} else {
		n = min(max(len(b)-2, 0), MaxPayloadLen)
		reason = fmt.Sprintf("no CRC validated, assumed length %d", n)
	}
	if n > len(b) {
		reason += fmt.Sprintf(", only %d bytes available", len(b))
		n = len(b)
	}
	return PayloadResult{
		Payload:   Dewhiten(b[:n], WhiteningMode{}),
		Reason:    reason,
		Evaluated: int(s.evaluated.Load()),
	}
}

// EncodePayloadSymbols is the transmit side of the canonical payload path:
// table whitening, CRC appended LSB first and left unwhitened, low nibble
// first, canonical interleaving and Gray mapping.
func EncodePayloadSymbols(payload []byte, p PayloadParams) ([]int, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(payload) < 1 || len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("payload length %d out of range 1..%d", len(payload), MaxPayloadLen)
	}
	data := Whiten(payload, WhiteningMode{})
	if p.HasCRC {
		crc := CRC(payload)
		data = append(data, byte(crc), byte(crc>>8))
	}
	rows := p.rows()
	nib := make([]int, 0, 2*len(data)+rows)
	for _, b := range data {
		nib = append(nib, int(b&0xF), int(b>>4))
	}
	for len(nib)%rows != 0 {
		nib = append(nib, 0)
	}
	h, _ := HammingCode(p.CR)
	symbols := make([]int, 0, len(nib)/rows*h.Len())
	for b := 0; b < len(nib); b += rows {
		for _, v := range (Mapping{}).EncodeBlock(nib[b:b+rows], h) {
			symbols = append(symbols, GrayEncode(v)<<(p.SF-rows))
		}
	}
	return symbols, nil
}
