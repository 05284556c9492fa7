package lora

import "testing"

func TestOrientationApply(t *testing.T) {
	tests := []struct {
		o    Orientation
		v    int
		want int
	}{
		{Orientation{}, 5, 5},
		{Orientation{BinOffset: 3}, 5, 8},
		{Orientation{BinOffset: 3}, 126, 1},
		{Orientation{InvertBins: true}, 5, 123},
		{Orientation{BinOffset: 10, InvertBins: true}, 5, 5},
		{Orientation{InvertBins: true}, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.o.Apply(tt.v, 128); got != tt.want {
			t.Errorf("%v.Apply(%d) = %d, want %d", tt.o, tt.v, got, tt.want)
		}
	}
}

func TestDemodExact(t *testing.T) {
	for _, c := range []struct{ sf, os int }{{7, 1}, {7, 4}, {8, 2}, {10, 1}} {
		d := NewDemodulator(c.sf, c.os)
		m := NewModulator(c.sf, c.os)
		n := d.N()
		for _, v := range []int{0, 1, 2, n / 2, n - 2, n - 1} {
			s := d.Demod(m.symbol(v), Orientation{}, 0)
			if s.Value != v {
				t.Errorf("SF%d OS%d: Demod(symbol %d) = %v", c.sf, c.os, v, s)
			}
			if s.Confidence < 100 {
				t.Errorf("SF%d OS%d: symbol %d confidence %.1f", c.sf, c.os, v, s.Confidence)
			}
		}
	}
}

func TestDemodOrientationOffset(t *testing.T) {
	d := NewDemodulator(7, 4)
	m := NewModulator(7, 4)
	for _, k := range []int{0, 1, 17, 127} {
		for _, v := range []int{0, 40, 100} {
			want := (v + k) % 128
			if got := d.Demod(m.symbol(v), Orientation{BinOffset: k}, 0).Value; got != want {
				t.Errorf("offset %d: Demod(%d) = %d, want %d", k, v, got, want)
			}
		}
	}
	// A mirrored transmitter is undone by inversion.
	m.Mirror = true
	for _, v := range []int{0, 3, 90} {
		if got := d.Demod(m.symbol(v), Orientation{InvertBins: true}, 0).Value; got != v {
			t.Errorf("mirrored: Demod(%d) = %d", v, got)
		}
	}
}

func TestDemodBinShift(t *testing.T) {
	d := NewDemodulator(8, 2)
	m := NewModulator(8, 2)
	m.BinShift = 5
	for _, v := range []int{0, 9, 250} {
		want := (v + 5) % 256
		if got := d.Demod(m.symbol(v), Orientation{}, 0).Value; got != want {
			t.Errorf("Demod(%d shifted by 5) = %d, want %d", v, got, want)
		}
		if got := d.Demod(m.symbol(v), Orientation{BinOffset: 256 - 5}, 0).Value; got != v {
			t.Errorf("Demod(%d) with compensating offset = %d", v, got)
		}
	}
}

func TestDemodShortWindow(t *testing.T) {
	d := NewDemodulator(7, 4)
	m := NewModulator(7, 4)
	full := m.symbol(42)
	// Three quarters of a symbol still peaks at the right bin.
	if got := d.Demod(full[:3*len(full)/4], Orientation{}, 0).Value; got != 42 {
		t.Errorf("Demod of a short window = %d, want 42", got)
	}
	iq := append(make([]complex64, 100), full...)
	if got := d.DemodAt(iq, 100, Orientation{}, 0).Value; got != 42 {
		t.Errorf("DemodAt = %d, want 42", got)
	}
	// Windows running off either end read zeros.
	d.DemodAt(iq, -50, Orientation{}, 0)
	d.DemodAt(iq, len(iq)-10, Orientation{}, 0)
	if s := d.Demod(nil, Orientation{}, 0); s.Confidence != 0 {
		t.Errorf("Demod(nil) = %v, want zero confidence", s)
	}
}

func TestDemodSymbols(t *testing.T) {
	cfg := DefaultConfig()
	m := NewModulator(cfg.SF, cfg.OS())
	values := []int{1, 2, 3, 100, 127}
	var iq []complex64
	for _, v := range values {
		iq = append(iq, m.symbol(v)...)
	}
	d := NewDemodulator(cfg.SF, cfg.OS())
	got := Values(d.DemodSymbols(iq, 0, len(values)+1, Orientation{}, 0))
	for i, v := range values {
		if got[i] != v {
			t.Errorf("symbol %d = %d, want %d", i, got[i], v)
		}
	}
	if len(got) != len(values)+1 {
		t.Errorf("DemodSymbols returned %d symbols", len(got))
	}
}
