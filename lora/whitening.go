package lora

import "fmt"

// Whitening selects how the transmitter scrambled the payload.
type Whitening int

const (
	// WhiteningTable XORs with the fixed 255 byte sequence.
	WhiteningTable Whitening = iota
	// WhiteningPN9LSB runs x^9+x^5+1 shifting right, emitting bits LSB first.
	WhiteningPN9LSB
	// WhiteningPN9MSB runs x^9+x^5+1 shifting left, emitting bits MSB first.
	WhiteningPN9MSB
	// WhiteningNone leaves bytes untouched.
	WhiteningNone
)

func (w Whitening) String() string {
	switch w {
	case WhiteningTable:
		return "table"
	case WhiteningPN9LSB:
		return "pn9-lsb"
	case WhiteningPN9MSB:
		return "pn9-msb"
	case WhiteningNone:
		return "none"
	}
	return fmt.Sprintf("Whitening(%d)", int(w))
}

// PN9Seeds are the LFSR seeds tried by the compatibility search. Seed 0 is a
// sentinel for table mode.
var PN9Seeds = []uint16{0x000, 0x1FF, 0x101, 0x1A5, 0x100, 0x17F}

// WhiteningMode is one whitening hypothesis.
type WhiteningMode struct {
	Kind Whitening
	Seed uint16
}

func (m WhiteningMode) String() string {
	if m.Kind == WhiteningPN9LSB || m.Kind == WhiteningPN9MSB {
		return fmt.Sprintf("%s/0x%03X", m.Kind, m.Seed)
	}
	return m.Kind.String()
}

// WhiteningModes enumerates every hypothesis in search order.
func WhiteningModes() []WhiteningMode {
	modes := []WhiteningMode{{Kind: WhiteningTable}}
	for _, seed := range PN9Seeds {
		if seed == 0 {
			continue
		}
		modes = append(modes,
			WhiteningMode{Kind: WhiteningPN9LSB, Seed: seed},
			WhiteningMode{Kind: WhiteningPN9MSB, Seed: seed})
	}
	return modes
}

// WhiteningSeq is the LoRa data whitening sequence: x^8+x^6+x^5+x^4+1 started
// from 0xFF.
var WhiteningSeq = [255]byte{
	0xFF, 0xFE, 0xFC, 0xF8, 0xF0, 0xE1, 0xC2, 0x85, 0x0B, 0x17, 0x2F, 0x5E,
	0xBC, 0x78, 0xF1, 0xE3, 0xC6, 0x8D, 0x1A, 0x34, 0x68, 0xD0, 0xA0, 0x40,
	0x80, 0x01, 0x02, 0x04, 0x08, 0x11, 0x23, 0x47, 0x8E, 0x1C, 0x38, 0x71,
	0xE2, 0xC4, 0x89, 0x12, 0x25, 0x4B, 0x97, 0x2E, 0x5C, 0xB8, 0x70, 0xE0,
	0xC0, 0x81, 0x03, 0x06, 0x0C, 0x19, 0x32, 0x64, 0xC9, 0x92, 0x24, 0x49,
	0x93, 0x26, 0x4D, 0x9B, 0x37, 0x6E, 0xDC, 0xB9, 0x72, 0xE4, 0xC8, 0x90,
	0x20, 0x41, 0x82, 0x05, 0x0A, 0x15, 0x2B, 0x56, 0xAD, 0x5B, 0xB6, 0x6D,
	0xDA, 0xB5, 0x6B, 0xD6, 0xAC, 0x59, 0xB2, 0x65, 0xCB, 0x96, 0x2C, 0x58,
	0xB0, 0x61, 0xC3, 0x87, 0x0F, 0x1F, 0x3E, 0x7D, 0xFB, 0xF6, 0xED, 0xDB,
	0xB7, 0x6F, 0xDE, 0xBD, 0x7A, 0xF5, 0xEB, 0xD7, 0xAE, 0x5D, 0xBA, 0x74,
	0xE8, 0xD1, 0xA2, 0x44, 0x88, 0x10, 0x21, 0x43, 0x86, 0x0D, 0x1B, 0x36,
	0x6C, 0xD8, 0xB1, 0x63, 0xC7, 0x8F, 0x1E, 0x3C, 0x79, 0xF3, 0xE7, 0xCE,
	0x9C, 0x39, 0x73, 0xE6, 0xCC, 0x98, 0x31, 0x62, 0xC5, 0x8B, 0x16, 0x2D,
	0x5A, 0xB4, 0x69, 0xD2, 0xA4, 0x48, 0x91, 0x22, 0x45, 0x8A, 0x14, 0x29,
	0x52, 0xA5, 0x4A, 0x95, 0x2A, 0x54, 0xA9, 0x53, 0xA7, 0x4E, 0x9D, 0x3B,
	0x77, 0xEE, 0xDD, 0xBB, 0x76, 0xEC, 0xD9, 0xB3, 0x67, 0xCF, 0x9E, 0x3D,
	0x7B, 0xF7, 0xEF, 0xDF, 0xBF, 0x7E, 0xFD, 0xFA, 0xF4, 0xE9, 0xD3, 0xA6,
	0x4C, 0x99, 0x33, 0x66, 0xCD, 0x9A, 0x35, 0x6A, 0xD4, 0xA8, 0x51, 0xA3,
	0x46, 0x8C, 0x18, 0x30, 0x60, 0xC1, 0x83, 0x07, 0x0E, 0x1D, 0x3A, 0x75,
	0xEA, 0xD5, 0xAA, 0x55, 0xAB, 0x57, 0xAF, 0x5F, 0xBE, 0x7C, 0xF9, 0xF2,
	0xE5, 0xCA, 0x94, 0x28, 0x50, 0xA1, 0x42, 0x84, 0x09, 0x13, 0x27, 0x4F,
	0x9F, 0x3F, 0x7F,
}

// PN9 generates the whitening stream of a 9-bit x^9+x^5+1 LFSR.
type PN9 struct {
	state    uint16
	msbFirst bool
}

func NewPN9(seed uint16, msbFirst bool) *PN9 {
	return &PN9{state: seed & 0x1FF, msbFirst: msbFirst}
}

// NextByte returns the next eight output bits packed into a byte.
func (p *PN9) NextByte() byte {
	var b byte
	for i := 0; i < 8; i++ {
		if p.msbFirst {
			bit := byte(p.state>>8) & 1
			fb := (p.state>>8 ^ p.state>>4) & 1
			p.state = (p.state<<1 | fb) & 0x1FF
			b = b<<1 | bit
		} else {
			bit := byte(p.state) & 1
			fb := (p.state ^ p.state>>5) & 1
			p.state = p.state>>1 | fb<<8
			b |= bit << i
		}
	}
	return b
}

// Sequence returns the first n whitening bytes of mode.
func (m WhiteningMode) Sequence(n int) []byte {
	seq := make([]byte, n)
	switch m.Kind {
	case WhiteningTable:
		for i := range seq {
			seq[i] = WhiteningSeq[i%len(WhiteningSeq)]
		}
	case WhiteningPN9LSB, WhiteningPN9MSB:
		if m.Seed == 0 {
			return WhiteningMode{Kind: WhiteningTable}.Sequence(n)
		}
		pn := NewPN9(m.Seed, m.Kind == WhiteningPN9MSB)
		for i := range seq {
			seq[i] = pn.NextByte()
		}
	}
	return seq
}

// Dewhiten XORs data with the whitening stream of mode. Whitening and
// dewhitening are the same operation.
func Dewhiten(data []byte, m WhiteningMode) []byte {
	seq := m.Sequence(len(data))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ seq[i]
	}
	return out
}

// Whiten is an alias of Dewhiten for the transmit path.
func Whiten(data []byte, m WhiteningMode) []byte {
	return Dewhiten(data, m)
}
