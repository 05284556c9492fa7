package lora

import (
	"bytes"
	"testing"
	"testing/quick"
)

func TestWhiteningSeq(t *testing.T) {
	// Fibonacci form of x^8+x^6+x^5+x^4+1: the feedback is the parity of
	// bits 7, 5, 4 and 3, shifted in at the bottom.
	s := byte(0xFF)
	for i, want := range WhiteningSeq {
		if s != want {
			t.Fatalf("WhiteningSeq[%d] = %02X, LFSR gives %02X", i, want, s)
		}
		s = s<<1 | byte(PopCount(s&0xB8)&1)
	}
}

func TestPN9(t *testing.T) {
	tests := []struct {
		name string
		mode WhiteningMode
		want []byte
	}{
		{"lsb", WhiteningMode{Kind: WhiteningPN9LSB, Seed: 0x1FF}, []byte{0xFF, 0xE1, 0x1D, 0x9A}},
		{"msb", WhiteningMode{Kind: WhiteningPN9MSB, Seed: 0x1FF}, []byte{0xFF, 0x83, 0xDF, 0x17}},
		{"seed 0 is table", WhiteningMode{Kind: WhiteningPN9LSB}, WhiteningSeq[:4]},
		{"none", WhiteningMode{Kind: WhiteningNone}, []byte{0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mode.Sequence(4); !bytes.Equal(got, tt.want) {
				t.Errorf("%v.Sequence(4) = %X, want %X", tt.mode, got, tt.want)
			}
		})
	}
}

func TestWhiteningModes(t *testing.T) {
	modes := WhiteningModes()
	if len(modes) != 11 {
		t.Fatalf("%d whitening modes, want 11", len(modes))
	}
	if modes[0] != (WhiteningMode{}) {
		t.Errorf("first mode %v, want table", modes[0])
	}
}

func TestDewhitenInvolution(t *testing.T) {
	for _, m := range WhiteningModes() {
		f := func(data []byte) bool {
			if len(data) > 300 {
				data = data[:300]
			}
			return bytes.Equal(Dewhiten(Whiten(data, m), m), data)
		}
		if err := quick.Check(f, nil); err != nil {
			t.Errorf("%v: %v", m, err)
		}
	}
	// The table repeats after 255 bytes.
	long := Whiten(make([]byte, 510), WhiteningMode{})
	if !bytes.Equal(long[:255], long[255:]) {
		t.Error("table whitening does not repeat every 255 bytes")
	}
}

func TestCRC(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint16
	}{
		{nil, 0x0000},
		{[]byte("123456789"), 0x31C3},
		{[]byte{0x01}, 0x1021},
		{[]byte("HELLO"), 0x58DA},
	}
	for _, tt := range tests {
		if got := CRC(tt.in); got != tt.want {
			t.Errorf("CRC(%q) = %04X, want %04X", tt.in, got, tt.want)
		}
	}
	framed := AppendCRC([]byte("HELLO"))
	if !bytes.Equal(framed[5:], []byte{0xDA, 0x58}) {
		t.Errorf("AppendCRC trailer = %X, want DA58", framed[5:])
	}
	if !CheckCRC(framed[:5], framed[5:]) {
		t.Error("CheckCRC rejected its own trailer")
	}
	if CheckCRC(framed[:5], []byte{0x58, 0xDA}) {
		t.Error("CheckCRC accepted a byte-swapped trailer")
	}
	if CheckCRC(framed[:5], framed[5:6]) {
		t.Error("CheckCRC accepted a short trailer")
	}
}
