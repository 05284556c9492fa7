package lora

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
)

// orientationDeltas are the bin offset corrections tried around the acquired
// orientation when the header does not decode.
var orientationDeltas = []int{0, 1, -1, 2, -2}

// Receiver decodes single LoRa frames from IQ captures. A Receiver is safe
// for concurrent use; each Decode call works on its own buffers.
type Receiver struct {
	cfg RadioConfig
}

// NewReceiver validates cfg and returns a Receiver for it.
func NewReceiver(cfg RadioConfig) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid radio config: %w", err)
	}
	cfg.SyncWords = append([]byte(nil), cfg.syncWords()...)
	return &Receiver{cfg: cfg}, nil
}

// Config returns the receiver's configuration.
func (r *Receiver) Config() RadioConfig {
	cfg := r.cfg
	cfg.SyncWords = append([]byte(nil), r.cfg.SyncWords...)
	return cfg
}

// Decode acquires the first frame in iq and decodes it. Acquisition failure
// is fatal, as is a header failure in explicit header mode. A payload that
// fails its CRC is returned unverified with a PayloadCrcFailed error.
func (r *Receiver) Decode(ctx context.Context, iq []complex64) DecodeResult {
	cfg := r.cfg
	if len(iq) < cfg.SPS() {
		return DecodeResult{Err: newDecodeError(MalformedInput,
			"%d samples is shorter than one symbol (%d)", len(iq), cfg.SPS())}
	}
	demod := NewDemodulator(cfg.SF, cfg.OS())
	cands, err := NewAcquirer(cfg, demod).Acquire(iq)
	if err != nil {
		return DecodeResult{Err: asDecodeError(err)}
	}
	var best DecodeResult
	for i, acq := range cands {
		if err := ctx.Err(); err != nil {
			break
		}
		res := r.decodeAt(ctx, iq, demod, acq)
		if res.OK() {
			return res
		}
		log.Printf("[DEBUG] candidate %d at %d (%s): %v", i, acq.HeaderStart, acq.Method, res.Err)
		if i == 0 || res.Err.Kind == PayloadCrcFailed && best.Err.Kind != PayloadCrcFailed {
			best = res
		}
	}
	if best.Err == nil {
		best.Err = newDecodeError(NoFrameDetected, "decode cancelled")
		best.Err.Err = ctx.Err()
	}
	return best
}

// decodeAt decodes the frame whose header starts at acq.HeaderStart.
func (r *Receiver) decodeAt(ctx context.Context, iq []complex64, demod *Demodulator, acq Acquisition) DecodeResult {
	cfg := r.cfg
	sps := demod.SPS()
	demod.FoldPhase = acq.FoldPhase
	base := DecodeResult{
		Orientation: acq.Orientation,
		Start:       acq.SyncStart,
		HeaderStart: acq.HeaderStart,
		FoldPhase:   acq.FoldPhase,
		CFO:         acq.CFO,
	}
	p := PayloadParams{
		SF:      cfg.SF,
		CR:      cfg.CR,
		LDRO:    cfg.LDROEnabled(),
		HasCRC:  cfg.HasCRC,
		Search:  SearchCanonical,
		Workers: cfg.workers(),
	}

	if cfg.ImplicitHeader {
		p.ExactLen, p.Search = cfg.PayloadLen, cfg.Search
		res := base
		res.Header = HeaderFields{PayloadLen: cfg.PayloadLen, CR: cfg.CR, HasCRC: cfg.HasCRC}
		return r.decodePayload(ctx, iq, demod, acq.HeaderStart, acq.CFO, p, res)
	}

	nsym := HeaderSymbolCount(cfg.SF)
	opts := HeaderOptions{SF: cfg.SF, ExpectCR: cfg.CR, ExpectCRC: cfg.HasCRC}
	var best, failed *DecodeResult
	bestScore := 0
	for _, o := range r.orientations(demod, acq) {
		res := base
		res.Orientation = o
		res.HeaderSymbols = demod.DemodSymbols(iq, acq.HeaderStart, nsym, o, acq.CFO)
		hdr, err := DecodeHeader(Values(res.HeaderSymbols), opts)
		if err != nil {
			if failed == nil {
				res.Err = asDecodeError(err)
				failed = &res
			}
			continue
		}
		res.Header = hdr.Fields
		p.CR, p.HasCRC, p.ExactLen = hdr.Fields.CR, hdr.Fields.HasCRC, hdr.Fields.PayloadLen
		res = r.decodePayload(ctx, iq, demod, acq.HeaderStart+nsym*sps, acq.CFO, p, res)
		if res.Verified {
			return res
		}
		// Unverified decodes are ranked by how plausible their header is.
		if best == nil || hdr.Score > bestScore {
			best, bestScore = &res, hdr.Score
		}
	}
	if best == nil {
		return *failed
	}
	if best.Err != nil && best.Err.Kind == PayloadCrcFailed && cfg.Search == SearchCompat {
		// Nothing verified canonically: search the best header's payload more
		// widely.
		p.CR, p.HasCRC, p.ExactLen = best.Header.CR, best.Header.HasCRC, best.Header.PayloadLen
		p.Search = SearchCompat
		return r.decodePayload(ctx, iq, demod, acq.HeaderStart+nsym*sps, acq.CFO, p, *best)
	}
	return *best
}

// decodePayload demodulates the payload starting at start and decodes it into
// res. Payload symbols are demodulated with res.Orientation.
func (r *Receiver) decodePayload(ctx context.Context, iq []complex64, demod *Demodulator, start int, cfo float64, p PayloadParams, res DecodeResult) DecodeResult {
	count := PayloadSymbolCount(p.ExactLen, p)
	res.PayloadSymbols = demod.DemodSymbols(iq, start, count, res.Orientation, cfo)
	if avail := (len(iq) - start) / demod.SPS(); avail < count {
		log.Printf("[DEBUG] only %d of %d payload symbols in capture", max(avail, 0), count)
	}
	pr := DecodePayload(ctx, Values(res.PayloadSymbols), p)
	res.Payload = pr.Payload
	res.Verified = pr.Verified
	res.Err = nil
	if pr.Verified {
		res.Mapping = pr.Match.String()
	}
	if p.HasCRC && !pr.Verified {
		res.Err = newDecodeError(PayloadCrcFailed, "%s", pr.Reason)
	}
	return res
}

// orientations lists the orientations tried for the header: the acquired one,
// small bin offset corrections of it, then the same with inversion flipped.
func (r *Receiver) orientations(demod *Demodulator, acq Acquisition) []Orientation {
	n := demod.N()
	flipped := Orientation{BinOffset: mod(-acq.Orientation.BinOffset, n), InvertBins: !acq.Orientation.InvertBins}
	if acq.hasSync {
		inv := flipped.InvertBins
		flipped, _, _ = NewAcquirer(r.cfg, demod).estimateOrientation(acq.sync, &inv)
	}
	var out []Orientation
	for _, base := range []Orientation{acq.Orientation, flipped} {
		for _, d := range orientationDeltas {
			out = append(out, Orientation{BinOffset: mod(base.BinOffset+d, n), InvertBins: base.InvertBins})
		}
	}
	return out
}

// DecodeFile decodes a cf32 capture. The radio parameters come from the
// sidecar next to it, over the receiver's own config.
func (r *Receiver) DecodeFile(ctx context.Context, path string) (DecodeResult, error) {
	cfg := r.Config()
	if sc, err := ReadSidecar(SidecarPath(path)); err == nil {
		if cfg, err = sc.Apply(cfg); err != nil {
			return DecodeResult{}, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return DecodeResult{}, err
	}
	rx, err := NewReceiver(cfg)
	if err != nil {
		return DecodeResult{}, err
	}
	iq, err := ReadCF32File(path)
	if err != nil {
		return DecodeResult{}, err
	}
	log.Printf("[DEBUG] %s: %d samples, %v", path, len(iq), cfg)
	return rx.Decode(ctx, iq), nil
}

func asDecodeError(err error) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	return &DecodeError{Kind: MalformedInput, Reason: "unexpected error", Err: err}
}
