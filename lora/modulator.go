package lora

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Modulator synthesizes LoRa frames at baseband. It produces exact test
// vectors for the receive chain.
type Modulator struct {
	SF, OS int
	// BinShift rotates every transmitted chirp by a whole number of bins, as an
	// integer carrier offset would.
	BinShift int
	// Mirror transmits the negated bin of every sync, header and payload
	// symbol.
	Mirror bool
	// Lead and Tail are silent samples around the frame.
	Lead, Tail int

	n, sps int
}

func NewModulator(sf, os int) *Modulator {
	n := 1 << sf
	return &Modulator{SF: sf, OS: os, n: n, sps: n * os}
}

// Chirp returns the upchirp whose de-chirped FFT peak is bin raw. The
// instantaneous frequency wraps from +bw/2 to -bw/2.
func (m *Modulator) Chirp(raw int) []complex64 {
	raw = mod(raw, m.n)
	wrapAt := (m.n - raw) * m.OS
	out := make([]complex64, m.sps)
	for i := range out {
		p := baseChirpPhase(i, m.n, m.OS) + 2*math.Pi*float64(raw*i)/float64(m.sps)
		if i >= wrapAt {
			p -= 2 * math.Pi * float64(i) / float64(m.OS)
		}
		out[i] = complex64(cmplx.Rect(1, math.Mod(p, 2*math.Pi)))
	}
	return out
}

// Downchirp returns the conjugate base chirp, shifted by BinShift.
func (m *Modulator) Downchirp() []complex64 {
	out := make([]complex64, m.sps)
	for i := range out {
		p := -baseChirpPhase(i, m.n, m.OS) + 2*math.Pi*float64(m.BinShift*i)/float64(m.sps)
		out[i] = complex64(cmplx.Rect(1, p))
	}
	return out
}

// symbol returns the chirp carrying symbol value v.
func (m *Modulator) symbol(v int) []complex64 {
	raw := v + 1
	if m.Mirror {
		raw = 1 - v
	}
	return m.Chirp(raw + m.BinShift)
}

// Frame builds a complete frame for cfg: preamble, two sync symbols, two and
// a quarter downchirps, the explicit header unless cfg.ImplicitHeader, and
// the payload.
func (m *Modulator) Frame(cfg RadioConfig, payload []byte) ([]complex64, error) {
	if cfg.SF != m.SF || cfg.OS() != m.OS {
		return nil, fmt.Errorf("modulator is SF%d/OS%d, config is SF%d/OS%d", m.SF, m.OS, cfg.SF, cfg.OS())
	}
	p := PayloadParams{SF: cfg.SF, CR: cfg.CR, LDRO: cfg.LDROEnabled(), HasCRC: cfg.HasCRC}
	data, err := EncodePayloadSymbols(payload, p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	var symbols []int
	if !cfg.ImplicitHeader {
		hdr, err := EncodeHeaderSymbols(HeaderFields{PayloadLen: len(payload), CR: cfg.CR, HasCRC: cfg.HasCRC}, cfg.SF, Mapping{})
		if err != nil {
			return nil, fmt.Errorf("encoding header: %w", err)
		}
		symbols = hdr
	}
	symbols = append(symbols, data...)
	return m.Symbols(cfg, symbols), nil
}

// Symbols frames already encoded header and payload symbol values.
func (m *Modulator) Symbols(cfg RadioConfig, symbols []int) []complex64 {
	sw := cfg.syncWords()[0]
	pre := cfg.preambleLen()
	out := make([]complex64, m.Lead, m.Lead+(pre+4+len(symbols)+1)*m.sps+m.Tail)
	for i := 0; i < pre; i++ {
		out = append(out, m.Chirp(m.BinShift)...)
	}
	out = append(out, m.symbol(int(sw>>4)<<3)...)
	out = append(out, m.symbol(int(sw&0xF)<<3)...)
	down := m.Downchirp()
	out = append(out, down...)
	out = append(out, down...)
	out = append(out, down[:m.sps/4]...)
	for _, s := range symbols {
		out = append(out, m.symbol(s)...)
	}
	return append(out, make([]complex64, m.Tail)...)
}
