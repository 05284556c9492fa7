package lora

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/icza/gog"
)

// encodeWith is EncodePayloadSymbols with a chosen mapping and whitening.
func encodeWith(payload []byte, p PayloadParams, m Mapping, w WhiteningMode) []int {
	data := append(Whiten(payload, w), 0, 0)
	crc := CRC(payload)
	data[len(payload)], data[len(payload)+1] = byte(crc), byte(crc>>8)
	rows := p.rows()
	var nib []int
	for _, b := range data {
		nib = append(nib, int(b&0xF), int(b>>4))
	}
	for len(nib)%rows != 0 {
		nib = append(nib, 0)
	}
	h, _ := HammingCode(p.CR)
	var symbols []int
	for b := 0; b < len(nib); b += rows {
		for _, v := range m.EncodeBlock(nib[b:b+rows], h) {
			symbols = append(symbols, GrayEncode(v)<<(p.SF-rows))
		}
	}
	return symbols
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*37 + 11)
	}
	return b
}

func TestPayloadSymbolCount(t *testing.T) {
	tests := []struct {
		n    int
		p    PayloadParams
		want int
	}{
		{5, PayloadParams{SF: 7, CR: 1, HasCRC: true}, 10},
		{5, PayloadParams{SF: 7, CR: 2, HasCRC: true}, 12},
		{5, PayloadParams{SF: 7, CR: 2}, 12},
		{1, PayloadParams{SF: 12, CR: 4, LDRO: true, HasCRC: true}, 8},
		{255, PayloadParams{SF: 7, CR: 4, HasCRC: true}, 74 * 8},
	}
	for _, tt := range tests {
		if got := PayloadSymbolCount(tt.n, tt.p); got != tt.want {
			t.Errorf("PayloadSymbolCount(%d, %+v) = %d, want %d", tt.n, tt.p, got, tt.want)
		}
	}
}

func TestEncodePayloadSymbols(t *testing.T) {
	got := gog.Must(EncodePayloadSymbols([]byte("HELLO"), PayloadParams{SF: 7, CR: 2, HasCRC: true}))
	want := []int{57, 80, 94, 79, 6, 5, 32, 61, 82, 71, 29, 60}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("EncodePayloadSymbols(HELLO) = %v, want %v", got, want)
	}
	for _, n := range []int{0, 256} {
		if _, err := EncodePayloadSymbols(make([]byte, n), PayloadParams{SF: 7, CR: 1}); err == nil {
			t.Errorf("EncodePayloadSymbols accepted length %d", n)
		}
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		n    int
		p    PayloadParams
	}{
		{"sf7 cr2 len5", 5, PayloadParams{SF: 7, CR: 2, HasCRC: true}},
		{"sf7 cr1 len1", 1, PayloadParams{SF: 7, CR: 1, HasCRC: true}},
		{"sf7 cr4 len255", 255, PayloadParams{SF: 7, CR: 4, HasCRC: true}},
		{"sf12 ldro cr3 len255", 255, PayloadParams{SF: 12, CR: 3, LDRO: true, HasCRC: true}},
		{"sf11 ldro cr1 len1", 1, PayloadParams{SF: 11, CR: 1, LDRO: true, HasCRC: true}},
		{"sf9 cr4 len17", 17, PayloadParams{SF: 9, CR: 4, HasCRC: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := testPayload(tt.n)
			symbols := gog.Must(EncodePayloadSymbols(payload, tt.p))
			if len(symbols) != PayloadSymbolCount(tt.n, tt.p) {
				t.Fatalf("%d symbols, want %d", len(symbols), PayloadSymbolCount(tt.n, tt.p))
			}
			p := tt.p
			p.ExactLen = tt.n
			res := DecodePayload(context.Background(), symbols, p)
			if !res.Verified || !bytes.Equal(res.Payload, payload) {
				t.Errorf("DecodePayload = %X verified %t (%s), want %X", res.Payload, res.Verified, res.Reason, payload)
			}
			if res.Match.Mapping != (Mapping{}) || res.Match.Packing != (Packing{}) || res.Match.Whitening != (WhiteningMode{}) {
				t.Errorf("match %v, want canonical", res.Match)
			}
		})
	}
}

func TestDecodePayloadUnknownLength(t *testing.T) {
	tests := []struct {
		payload string
		sf, cr  int
	}{
		{"The quick brown fox!", 8, 3},
		{"A", 7, 1},
		{"HI!", 7, 1},
		{"1234567", 7, 1},
		{"A", 8, 3},
		{"HI!", 8, 3},
		{"1234567", 8, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/sf%d/cr%d", tt.payload, tt.sf, tt.cr), func(t *testing.T) {
			p := PayloadParams{SF: tt.sf, CR: tt.cr, HasCRC: true}
			res := DecodePayload(context.Background(), gog.Must(EncodePayloadSymbols([]byte(tt.payload), p)), p)
			if !res.Verified || string(res.Payload) != tt.payload {
				t.Errorf("DecodePayload = %q verified %t, want %q", res.Payload, res.Verified, tt.payload)
			}
			if res.Match.Len != len(tt.payload) {
				t.Errorf("Match.Len = %d, want %d", res.Match.Len, len(tt.payload))
			}
		})
	}
}

// shortMatchWindow returns a whitened 10 byte payload with its CRC whose
// bytes 2 and 3 also happen to be the CRC of its first two bytes.
func shortMatchWindow() []byte {
	seq := WhiteningMode{}.Sequence(10)
	plain := []byte("AB..CDEFGH")
	c := CRC(plain[:2])
	plain[2], plain[3] = byte(c)^seq[2], byte(c>>8)^seq[3]
	crc := CRC(plain)
	return append(Whiten(plain, WhiteningMode{}), byte(crc), byte(crc>>8))
}

func TestSearcherScanShortMatch(t *testing.T) {
	modes := []WhiteningMode{{}}
	s := newSearcher(PayloadParams{SF: 7, CR: 1, HasCRC: true})
	w := shortMatchWindow()

	// A definitive length beats the earlier short match.
	m, _ := s.scan(w, modes, len(w))
	if m == nil || m.Len != 10 || !m.definitive {
		t.Errorf("scan = %v, want definitive length 10", m)
	}
	// Without it the short match is all there is.
	m, _ = s.scan(w[:10], modes, 10)
	if m == nil || m.Len != 2 || m.definitive {
		t.Errorf("truncated scan = %v, want short length 2", m)
	}
	// A known length makes any match at it definitive and skips shorter ones.
	s = newSearcher(PayloadParams{SF: 7, CR: 1, HasCRC: true, ExactLen: 2})
	m, _ = s.scan(w, modes, s.maxLen(len(w), MaxPayloadLen))
	if m == nil || m.Len != 2 || !m.definitive {
		t.Errorf("exact length 2 scan = %v, want definitive length 2", m)
	}
	s = newSearcher(PayloadParams{SF: 7, CR: 1, HasCRC: true, ExactLen: 10})
	m, _ = s.scan(w, modes, s.maxLen(len(w), MaxPayloadLen))
	if m == nil || m.Len != 10 || !m.definitive {
		t.Errorf("exact length 10 scan = %v, want definitive length 10", m)
	}
}

func TestDecodePayloadNoCRC(t *testing.T) {
	p := PayloadParams{SF: 7, CR: 2, ExactLen: 5}
	res := DecodePayload(context.Background(), gog.Must(EncodePayloadSymbols([]byte("HELLO"), p)), p)
	if res.Verified || res.Reason != "" || string(res.Payload) != "HELLO" {
		t.Errorf("DecodePayload = %q verified %t reason %q", res.Payload, res.Verified, res.Reason)
	}
}

func TestDecodePayloadCRCFailure(t *testing.T) {
	p := PayloadParams{SF: 7, CR: 1, HasCRC: true, ExactLen: 5}
	symbols := gog.Must(EncodePayloadSymbols([]byte("HELLO"), p))
	// Wipe the first block: three and a half bytes become zero.
	for i := 0; i < 5; i++ {
		symbols[i] = 0
	}
	res := DecodePayload(context.Background(), symbols, p)
	if res.Verified {
		t.Fatalf("corrupted payload verified: %q", res.Payload)
	}
	if res.Reason == "" || len(res.Payload) != 5 || res.Payload[4] != 'O' {
		t.Errorf("DecodePayload = %q reason %q, want 5 best-effort bytes ending in O", res.Payload, res.Reason)
	}
}

func TestDecodePayloadCompatWhitening(t *testing.T) {
	p := PayloadParams{SF: 7, CR: 1, HasCRC: true, ExactLen: 5}
	pn9 := WhiteningMode{Kind: WhiteningPN9LSB, Seed: 0x1FF}
	symbols := encodeWith([]byte("HELLO"), p, Mapping{}, pn9)

	if res := DecodePayload(context.Background(), symbols, p); res.Verified {
		t.Fatalf("canonical search verified %q", res.Payload)
	}
	p.Search = SearchCompat
	p.Workers = 2
	res := DecodePayload(context.Background(), symbols, p)
	if !res.Verified || string(res.Payload) != "HELLO" {
		t.Fatalf("compat search = %q verified %t (%s)", res.Payload, res.Verified, res.Reason)
	}
	if res.Match.Whitening != pn9 || res.Match.Mapping != (Mapping{}) {
		t.Errorf("match %v, want canonical mapping with %v", res.Match, pn9)
	}
}

func TestDecodePayloadCancelled(t *testing.T) {
	p := PayloadParams{SF: 7, CR: 1, HasCRC: true, ExactLen: 5, Search: SearchCompat}
	symbols := make([]int, PayloadSymbolCount(5, p))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := DecodePayload(ctx, symbols, p)
	if res.Verified || res.Reason == "" {
		t.Errorf("cancelled search = %v", res)
	}
}

func TestDecodePayloadBadParams(t *testing.T) {
	res := DecodePayload(context.Background(), []int{1, 2, 3}, PayloadParams{SF: 7, CR: 5})
	if res.Verified || res.Reason == "" || res.Payload != nil {
		t.Errorf("DecodePayload with CR 5 = %+v", res)
	}
}

func TestPackings(t *testing.T) {
	pks := Packings()
	if len(pks) != 20 || pks[0] != (Packing{}) {
		t.Fatalf("Packings() = %v", pks)
	}
	nib := []int{0x1, 0x2, 0x3, 0x4, 0x5}
	tests := []struct {
		p    Packing
		want []byte
	}{
		{Packing{}, []byte{0x21, 0x43}},
		{Packing{HighFirst: true}, []byte{0x12, 0x34}},
		{Packing{Offset: 1}, []byte{0x32, 0x54}},
		{Packing{BitLevel: true}, []byte{0x21, 0x43}},
		{Packing{BitLevel: true, HighFirst: true}, []byte{0x84, 0xC2}},
		{Packing{BitLevel: true, Offset: 4}, []byte{0x32, 0x54}},
	}
	for _, tt := range tests {
		if got := tt.p.Pack(nib); !bytes.Equal(got, tt.want) {
			t.Errorf("%v.Pack(%v) = %X, want %X", tt.p, nib, got, tt.want)
		}
	}
	if got := slide([]byte{0x12, 0x34, 0x56}, 4); !bytes.Equal(got, []byte{0x23, 0x45}) {
		t.Errorf("slide by 4 = %X, want 2345", got)
	}
}
