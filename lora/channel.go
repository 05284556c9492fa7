package lora

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
)

// Channel impairs synthesized samples with a carrier frequency offset and
// white Gaussian noise.
type Channel struct {
	// CFO is the carrier offset in cycles per sample.
	CFO float64

	sigma float64
	rng   *rand.Rand
}

// NewChannel returns a channel adding noise at snrDB per sample relative to
// a unit amplitude signal. An infinite snrDB adds no noise. The seed makes the
// noise reproducible.
func NewChannel(snrDB, cfo float64, seed uint64) *Channel {
	c := &Channel{CFO: cfo, rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
	if !math.IsInf(snrDB, 1) {
		c.sigma = math.Sqrt(1 / (2 * math.Pow(10, snrDB/10)))
	}
	return c
}

// Apply returns a copy of iq with the channel's impairments, noise included
// in silent stretches.
func (c *Channel) Apply(iq []complex64) []complex64 {
	out := make([]complex64, len(iq))
	for i, x := range iq {
		s := complex128(x)
		if c.CFO != 0 {
			s *= cmplx.Rect(1, 2*math.Pi*c.CFO*float64(i))
		}
		if c.sigma > 0 {
			s += complex(c.rng.NormFloat64()*c.sigma, c.rng.NormFloat64()*c.sigma)
		}
		out[i] = complex64(s)
	}
	return out
}
