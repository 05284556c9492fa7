package lora

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// MaxConfidence is reported when a spectrum has no second peak to speak of.
	MaxConfidence     = 1000.0
	confidenceEpsilon = 1e-9
)

// Symbol is one demodulated chirp.
type Symbol struct {
	Value      int
	Confidence float64
}

func (s Symbol) String() string {
	return fmt.Sprintf("%d(%.1f)", s.Value, s.Confidence)
}

// Orientation is the residual bin rotation and mirroring left after coarse
// synchronization. It is applied once, at demodulation time.
type Orientation struct {
	BinOffset  int
	InvertBins bool
}

// Apply maps a corrected bin to the oriented symbol value in [0, n).
// Inversion happens before the offset is added.
func (o Orientation) Apply(v, n int) int {
	if o.InvertBins {
		v = -v
	}
	return mod(v+o.BinOffset, n)
}

func (o Orientation) String() string {
	return fmt.Sprintf("{BinOffset:%d InvertBins:%t}", o.BinOffset, o.InvertBins)
}

// baseChirpPhase is the phase of the base upchirp at sample n, in [0, 2π).
func baseChirpPhase(n, bins, os int) float64 {
	fn := float64(n)
	p := math.Pi*fn*fn/float64(bins*os*os) - math.Pi*fn/float64(os)
	p = math.Mod(p, 2*math.Pi)
	if p < 0 {
		p += 2 * math.Pi
	}
	return p
}

// Demodulator turns one symbol window into a bin index by de-chirping,
// decimating at FoldPhase and taking the peak of an N point FFT.
//
// A Demodulator holds FFT work buffers and must not be shared between
// goroutines.
type Demodulator struct {
	SF, OS int
	// FoldPhase is the sample within each chip that is kept when the de-chirped
	// window is folded onto N bins.
	FoldPhase int

	n, sps int
	ref    []complex128 // conjugate base upchirp
	ramps  map[float64][]complex128
	fft    *fourier.CmplxFFT
	seq    []complex128
	coef   []complex128
}

func NewDemodulator(sf, os int) *Demodulator {
	n := 1 << sf
	d := &Demodulator{
		SF:    sf,
		OS:    os,
		n:     n,
		sps:   n * os,
		ramps: make(map[float64][]complex128),
		fft:   fourier.NewCmplxFFT(n),
		seq:   make([]complex128, n),
		coef:  make([]complex128, n),
	}
	d.ref = make([]complex128, d.sps)
	for i := range d.ref {
		d.ref[i] = cmplx.Rect(1, -baseChirpPhase(i, n, os))
	}
	return d
}

// N is the number of bins.
func (d *Demodulator) N() int { return d.n }

// SPS is the window length in samples.
func (d *Demodulator) SPS() int { return d.sps }

// peak returns the raw FFT peak bin of window and its confidence. Windows
// shorter than SPS are treated as zero-padded.
func (d *Demodulator) peak(window []complex64, cfo float64) (int, float64) {
	fold := mod(d.FoldPhase, d.OS)
	var ramp []complex128
	if cfo != 0 {
		ramp = d.ramp(cfo)
	}
	for m := range d.seq {
		i := m*d.OS + fold
		if i >= len(window) {
			d.seq[m] = 0
			continue
		}
		s := complex128(window[i]) * d.ref[i]
		if ramp != nil {
			s *= ramp[i]
		}
		d.seq[m] = s
	}
	d.coef = d.fft.Coefficients(d.coef, d.seq)

	best, first, second := 0, 0.0, 0.0
	for k, c := range d.coef {
		m := cmplx.Abs(c)
		if m > first {
			best, first, second = k, m, first
		} else if m > second {
			second = m
		}
	}
	if first == 0 {
		return 0, 0
	}
	return best, math.Min(MaxConfidence, first/(second+confidenceEpsilon))
}

// ramp returns exp(-j2π·cfo·i) over one window.
func (d *Demodulator) ramp(cfo float64) []complex128 {
	if r, ok := d.ramps[cfo]; ok {
		return r
	}
	r := make([]complex128, d.sps)
	for i := range r {
		r[i] = cmplx.Rect(1, -2*math.Pi*cfo*float64(i))
	}
	d.ramps[cfo] = r
	return r
}

// Demod demodulates one window of SPS samples. The raw peak is corrected by
// -1 bin for the reference chirp convention, then o is applied. cfo is a
// frequency offset in cycles per sample removed before the FFT.
//
// A window shorter than SPS is zero-padded rather than rejected; only a
// whole buffer shorter than one symbol is reported as MalformedInput, by
// the Receiver.
func (d *Demodulator) Demod(window []complex64, o Orientation, cfo float64) Symbol {
	raw, conf := d.peak(window, cfo)
	return Symbol{Value: o.Apply(mod(raw-1, d.n), d.n), Confidence: conf}
}

// DemodAt demodulates the window of iq starting at sample start. Samples
// outside iq read as zero.
func (d *Demodulator) DemodAt(iq []complex64, start int, o Orientation, cfo float64) Symbol {
	return d.Demod(window(iq, start, d.sps), o, cfo)
}

// DemodSymbols demodulates count consecutive windows starting at start.
func (d *Demodulator) DemodSymbols(iq []complex64, start, count int, o Orientation, cfo float64) []Symbol {
	syms := make([]Symbol, count)
	for i := range syms {
		syms[i] = d.DemodAt(iq, start+i*d.sps, o, cfo)
	}
	return syms
}

// window returns iq[start:start+n], copying into a zero-filled buffer when the
// range runs off either end.
func window(iq []complex64, start, n int) []complex64 {
	if start >= 0 && start+n <= len(iq) {
		return iq[start : start+n]
	}
	w := make([]complex64, n)
	for i := range w {
		j := start + i
		if j >= 0 && j < len(iq) {
			w[i] = iq[j]
		}
	}
	return w
}

// Values returns the symbol values of syms.
func Values(syms []Symbol) []int {
	v := make([]int, len(syms))
	for i, s := range syms {
		v[i] = s.Value
	}
	return v
}

// totalConfidence sums the confidence of syms.
func totalConfidence(syms []Symbol) float64 {
	var t float64
	for _, s := range syms {
		t += s.Confidence
	}
	return t
}
