package lora

import (
	"log"
	"math"
	"math/cmplx"
	"sort"
)

const (
	syncSearchSamples = 20000
	// minPreambleRun is the number of equal consecutive preamble bins that
	// marks a preamble.
	minPreambleRun        = 4
	minPreambleConfidence = 0.5
	maxSyncSpread         = 2
	refineSymbols         = 8
	// Raw scan candidates must average this much confidence per symbol.
	minScanConfidence = 3
	maxScanStarts     = 4096
	maxScanCandidates = 3
)

// refineCFOs are the fractional frequency offsets tried by refine, in
// cycles per sample. Zero comes first so it wins ties.
var refineCFOs = []float64{0, -1.0 / 128, 1.0 / 128, -2.0 / 128, 2.0 / 128}

type acqState int

const (
	acqIdle acqState = iota
	acqSyncSearch
	acqHeaderRefine
	acqReady
	acqFailed
)

func (s acqState) String() string {
	return [...]string{"Idle", "SyncSearch", "HeaderRefine", "Ready", "Failed"}[s]
}

// Acquisition locates one frame in a capture.
type Acquisition struct {
	// SyncStart is the first sample of the first sync symbol. It is only
	// meaningful when Method is "sync" or "energy".
	SyncStart   int
	HeaderStart int
	Orientation Orientation
	FoldPhase   int
	CFO         float64
	// Confidence is the summed confidence of the refined header symbols.
	Confidence float64
	Method     string

	// sync holds the unoriented sync symbol values, hasSync whether they
	// were read.
	sync    [2]int
	hasSync bool
}

// Acquirer finds frames. It is not safe for concurrent use.
type Acquirer struct {
	cfg   RadioConfig
	demod *Demodulator
	state acqState
}

func NewAcquirer(cfg RadioConfig, demod *Demodulator) *Acquirer {
	return &Acquirer{cfg: cfg, demod: demod}
}

func (a *Acquirer) setState(s acqState) {
	if s != a.state {
		log.Printf("[DEBUG] acquisition %s -> %s", a.state, s)
	}
	a.state = s
}

// Acquire returns candidate frame positions, best first. The sync word search
// is tried first, then an energy onset scan followed by another sync search,
// then a raw scan of header starts ranked by confidence.
func (a *Acquirer) Acquire(iq []complex64) ([]Acquisition, error) {
	a.state = acqIdle
	sps := a.demod.SPS()
	if len(iq) < sps {
		a.setState(acqFailed)
		return nil, newDecodeError(MalformedInput, "%d samples is shorter than one symbol (%d)", len(iq), sps)
	}
	a.setState(acqSyncSearch)
	span := max(syncSearchSamples, (a.cfg.preambleLen()+6)*sps)
	if acq, ok := a.syncSearch(iq, 0, span); ok {
		acq.Method = "sync"
		return []Acquisition{a.refine(iq, acq)}, nil
	}
	if onset, ok := a.energyOnset(iq); ok {
		log.Printf("[DEBUG] energy onset at %d", onset)
		if acq, ok := a.syncSearch(iq, max(0, onset-sps), span); ok {
			acq.Method = "energy"
			return []Acquisition{a.refine(iq, acq)}, nil
		}
	}
	a.setState(acqSyncSearch)
	if cands := a.scan(iq); len(cands) > 0 {
		return cands, nil
	}
	a.setState(acqFailed)
	return nil, newDecodeError(NoFrameDetected, "no preamble, sync word or header in %d samples", len(iq))
}

// syncSearch looks for a preamble in iq[from:from+span], aligns to its symbol
// boundary, and reads the two sync symbols that follow it.
func (a *Acquirer) syncSearch(iq []complex64, from, span int) (Acquisition, bool) {
	d := a.demod
	d.FoldPhase = 0
	sps, n := d.SPS(), d.N()
	end := min(len(iq), from+span)
	run, prev := 0, 0
	for pos := from; pos+sps <= end; pos += sps {
		s := d.DemodAt(iq, pos, Orientation{}, 0)
		if s.Confidence < minPreambleConfidence || (run > 0 && abs(wrap(s.Value-prev, n)) > 1) {
			run = 0
		}
		if s.Confidence >= minPreambleConfidence {
			if run == 0 {
				prev = s.Value
			}
			run++
		}
		if run < minPreambleRun {
			continue
		}
		p0 := pos - (minPreambleRun-1)*sps
		raw := mod(prev+1, n)
		if acq, ok := a.alignSync(iq, p0, p0-raw*d.OS); ok {
			return acq, true
		}
		run = 0
	}
	return Acquisition{}, false
}

// alignSync walks aligned symbol windows from the preamble boundary b until
// the preamble ends, then estimates the orientation from the sync symbols.
func (a *Acquirer) alignSync(iq []complex64, p0, b int) (Acquisition, bool) {
	d := a.demod
	sps, n := d.SPS(), d.N()
	for b < p0 {
		b += sps
	}
	pre := d.DemodAt(iq, b, Orientation{}, 0).Value
	limit := 4*a.cfg.preambleLen() + 16
	for k := 1; k < limit; k++ {
		pos := b + k*sps
		if pos+2*sps > len(iq) {
			return Acquisition{}, false
		}
		s1 := d.DemodAt(iq, pos, Orientation{}, 0)
		if abs(wrap(s1.Value-pre, n)) <= 1 {
			continue
		}
		s2 := d.DemodAt(iq, pos+sps, Orientation{}, 0)
		acq := Acquisition{
			SyncStart:   pos,
			HeaderStart: pos + 4*sps + sps/4,
			sync:        [2]int{s1.Value, s2.Value},
			hasSync:     true,
		}
		o, spread, ok := a.estimateOrientation(acq.sync, nil)
		log.Printf("[DEBUG] preamble boundary %d, sync at %d reads %d %d, orientation %v spread %d",
			b, pos, s1.Value, s2.Value, o, spread)
		if !ok {
			return Acquisition{}, false
		}
		acq.Orientation = o
		return acq, true
	}
	return Acquisition{}, false
}

// estimateOrientation compares observed sync values against every configured
// sync word, with and without the +44 companion offset and with and without
// inversion. invert restricts the inversion hypothesis when non-nil.
func (a *Acquirer) estimateOrientation(obs [2]int, invert *bool) (Orientation, int, bool) {
	n := a.demod.N()
	var best Orientation
	bestSpread, bestAvg := math.MaxInt, math.MaxInt
	for _, sw := range a.cfg.syncWords() {
		net := [2]int{int(sw>>4) << 3, int(sw&0xF) << 3}
		for _, shift := range []int{0, headerOffset} {
			for _, inv := range []bool{false, true} {
				if invert != nil && *invert != inv {
					continue
				}
				var dd [2]int
				for i := range dd {
					o := obs[i]
					if inv {
						o = -o
					}
					dd[i] = wrap(o-(net[i]+shift), n)
				}
				spread := abs(dd[0] - dd[1])
				avg := int(math.Round(float64(dd[0]+dd[1]) / 2))
				if spread < bestSpread || (spread == bestSpread && abs(avg) < abs(bestAvg)) {
					bestSpread, bestAvg = spread, avg
					best = Orientation{BinOffset: mod(-avg, n), InvertBins: inv}
				}
			}
		}
	}
	return best, bestSpread, bestSpread <= maxSyncSpread
}

type refineTrial struct {
	offset int
	cfo    float64
	fold   int
	conf   float64
}

// refine searches offsets within a quarter symbol of the header start, the
// fractional CFO grid and every fold phase for the highest summed confidence
// over the first header symbols. Confidence only peaks at exact sample
// alignment, so the coarse grid covers every sample phase of a chip before
// narrowing down chip by chip and finally sample by sample. Ties go to the
// smallest offset, then zero CFO, then fold phase zero. The orientation is
// then read again from the sync symbols at the refined alignment.
func (a *Acquirer) refine(iq []complex64, acq Acquisition) Acquisition {
	a.setState(acqHeaderRefine)
	d := a.demod
	sps, os := d.SPS(), d.OS
	step := os * max(1, d.N()/64)
	var coarse []int
	for phase := 0; phase < os; phase++ {
		for off := phase - (sps/4/step+1)*step; off <= sps/4; off += step {
			if off >= -sps/4 {
				coarse = append(coarse, off)
			}
		}
	}
	best := a.refineGrid(iq, acq.HeaderStart, coarse)
	for step > os {
		next := max(os, step/8/os*os)
		best = a.refineGrid(iq, acq.HeaderStart, around(best.offset, step, next))
		step = next
	}
	best = a.refineGrid(iq, acq.HeaderStart, around(best.offset, os, 1))

	acq.HeaderStart += best.offset
	acq.SyncStart += best.offset
	acq.FoldPhase, acq.CFO, acq.Confidence = best.fold, best.cfo, best.conf
	d.FoldPhase = best.fold
	if acq.hasSync {
		obs := [2]int{
			d.DemodAt(iq, acq.SyncStart, Orientation{}, best.cfo).Value,
			d.DemodAt(iq, acq.SyncStart+sps, Orientation{}, best.cfo).Value,
		}
		if o, _, ok := a.estimateOrientation(obs, nil); ok {
			acq.Orientation, acq.sync = o, obs
		}
	}
	log.Printf("[DEBUG] refined header start %d (offset %d) fold %d cfo %.4f confidence %.1f orientation %v",
		acq.HeaderStart, best.offset, best.fold, best.cfo, best.conf, acq.Orientation)
	a.setState(acqReady)
	return acq
}

// refineGrid evaluates every offset, CFO and fold phase combination.
func (a *Acquirer) refineGrid(iq []complex64, start int, offsets []int) refineTrial {
	d := a.demod
	count := min(refineSymbols, HeaderSymbolCount(a.cfg.SF))
	best := refineTrial{conf: -1}
	for _, off := range byMagnitude(offsets) {
		for _, cfo := range refineCFOs {
			for fold := 0; fold < d.OS; fold++ {
				d.FoldPhase = fold
				c := totalConfidence(d.DemodSymbols(iq, start+off, count, Orientation{}, cfo))
				if c > best.conf {
					best = refineTrial{offset: off, cfo: cfo, fold: fold, conf: c}
				}
			}
		}
	}
	return best
}

// around lists centre+k*step for |k*step| <= span.
func around(centre, span, step int) []int {
	var out []int
	for k := -span / step; k <= span/step; k++ {
		out = append(out, centre+k*step)
	}
	return out
}

// byMagnitude sorts offsets by magnitude, negative first on equal magnitude.
func byMagnitude(offsets []int) []int {
	sort.Slice(offsets, func(i, j int) bool {
		if abs(offsets[i]) != abs(offsets[j]) {
			return abs(offsets[i]) < abs(offsets[j])
		}
		return offsets[i] < offsets[j]
	})
	return offsets
}

// energyOnset finds the first quarter symbol block whose energy rises well
// above the quietest block and, when oversampled, whose phase increments
// are less scattered than noise.
func (a *Acquirer) energyOnset(iq []complex64) (int, bool) {
	blk := max(1, a.demod.SPS()/4)
	nblk := len(iq) / blk
	if nblk < 2 {
		return 0, false
	}
	energy := make([]float64, nblk)
	lo, hi := math.Inf(1), 0.0
	for b := range energy {
		var e float64
		for _, x := range iq[b*blk : (b+1)*blk] {
			e += float64(real(x)*real(x) + imag(x)*imag(x))
		}
		energy[b] = e / float64(blk)
		lo, hi = math.Min(lo, energy[b]), math.Max(hi, energy[b])
	}
	if hi <= lo {
		return 0, false
	}
	thr := lo + 0.25*(hi-lo)
	for b, e := range energy {
		if e < thr {
			continue
		}
		if a.demod.OS > 1 && phaseVariance(iq[b*blk:(b+1)*blk]) > math.Pi*math.Pi/3*0.9 {
			continue
		}
		return b * blk, true
	}
	return 0, false
}

// phaseVariance is the variance of the sample to sample phase increment.
func phaseVariance(x []complex64) float64 {
	if len(x) < 2 {
		return 0
	}
	var sum, sum2 float64
	for i := 1; i < len(x); i++ {
		dp := cmplx.Phase(complex128(x[i]) * cmplx.Conj(complex128(x[i-1])))
		sum += dp
		sum2 += dp * dp
	}
	n := float64(len(x) - 1)
	mean := sum / n
	return sum2/n - mean*mean
}

// scan ranks a coarse grid of header starts by confidence and refines the
// best few. Candidates carry an unresolved orientation.
func (a *Acquirer) scan(iq []complex64) []Acquisition {
	d := a.demod
	d.FoldPhase = 0
	sps := d.SPS()
	count := min(refineSymbols, HeaderSymbolCount(a.cfg.SF))
	step := max(sps/4, (len(iq)+maxScanStarts-1)/maxScanStarts)
	var trials []refineTrial
	for start := 0; start+sps <= len(iq); start += step {
		c := totalConfidence(d.DemodSymbols(iq, start, count, Orientation{}, 0))
		if c >= minScanConfidence*float64(count) {
			trials = append(trials, refineTrial{offset: start, conf: c})
		}
	}
	sort.SliceStable(trials, func(i, j int) bool { return trials[i].conf > trials[j].conf })
	var out []Acquisition
	for _, t := range trials {
		if len(out) == maxScanCandidates {
			break
		}
		near := false
		for _, o := range out {
			if abs(o.HeaderStart-t.offset) < sps {
				near = true
			}
		}
		if near {
			continue
		}
		acq := a.refine(iq, Acquisition{HeaderStart: t.offset, Method: "scan"})
		out = append(out, acq)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
