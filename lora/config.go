package lora

import (
	"fmt"
	"runtime"
)

// LDROMode selects low data rate optimization.
type LDROMode int

const (
	LDROOff LDROMode = iota
	LDROOn
	// LDROAuto enables LDRO for SF 11 and 12.
	LDROAuto
)

func (m LDROMode) String() string {
	switch m {
	case LDROOff:
		return "off"
	case LDROOn:
		return "on"
	case LDROAuto:
		return "auto"
	}
	return fmt.Sprintf("LDROMode(%d)", int(m))
}

// SearchMode controls how hard the payload decoder works when the canonical
// mapping does not validate.
type SearchMode int

const (
	// SearchCanonical only tries the canonical mapping.
	SearchCanonical SearchMode = iota
	// SearchCompat falls back to the bounded compatibility search. Across
	// millions of candidate windows a 16 bit CRC matches by chance now and
	// then, so a compat match is weaker evidence than a canonical one.
	SearchCompat
)

func (m SearchMode) String() string {
	if m == SearchCompat {
		return "compat"
	}
	return "canonical"
}

// ParseSearchMode parses "canonical" or "compat".
func ParseSearchMode(s string) (SearchMode, error) {
	switch s {
	case "canonical", "":
		return SearchCanonical, nil
	case "compat":
		return SearchCompat, nil
	}
	return 0, fmt.Errorf("unknown search mode %q", s)
}

// ParseLDROMode parses "off", "on" or "auto", or the sidecar numbers 0, 1, 2.
func ParseLDROMode(s string) (LDROMode, error) {
	switch s {
	case "off", "0":
		return LDROOff, nil
	case "on", "1":
		return LDROOn, nil
	case "auto", "2", "":
		return LDROAuto, nil
	}
	return 0, fmt.Errorf("unknown ldro mode %q", s)
}

const (
	MinSF = 7
	MaxSF = 12

	DefaultSyncWord    = 0x12
	DefaultPreambleLen = 8
	MaxPayloadLen      = 255
)

// RadioConfig parameterizes every stage of the receiver. It must not be
// modified after a Receiver has been built from it.
type RadioConfig struct {
	SF         int
	Bandwidth  int // Hz
	SampleRate int // Hz, an integer multiple of Bandwidth
	CR         int // 1..4, codewords are 4+CR bits
	HasCRC     bool

	// ImplicitHeader frames carry no header. PayloadLen, CR and HasCRC are
	// taken from the config instead.
	ImplicitHeader bool
	PayloadLen     int

	LDRO        LDROMode
	SyncWords   []byte
	PreambleLen int

	Search SearchMode
	// Workers bounds the parallelism of the compatibility search. Zero means
	// GOMAXPROCS.
	Workers int
}

// DefaultConfig returns SF7, 125 kHz sampled at 500 kHz, CR 4/5 with CRC and
// the canonical payload search only.
func DefaultConfig() RadioConfig {
	return RadioConfig{
		SF:          7,
		Bandwidth:   125000,
		SampleRate:  500000,
		CR:          1,
		HasCRC:      true,
		LDRO:        LDROAuto,
		SyncWords:   []byte{DefaultSyncWord},
		PreambleLen: DefaultPreambleLen,
		Search:      SearchCanonical,
	}
}

// Validate checks the config, returning an UnsupportedConfig DecodeError.
func (c RadioConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return newDecodeError(UnsupportedConfig, format, args...)
	}
	switch {
	case c.SF < MinSF || c.SF > MaxSF:
		return fail("spreading factor %d out of range %d..%d", c.SF, MinSF, MaxSF)
	case c.CR < 1 || c.CR > 4:
		return fail("coding rate %d out of range 1..4", c.CR)
	case c.Bandwidth <= 0:
		return fail("bandwidth %d must be positive", c.Bandwidth)
	case c.SampleRate <= 0:
		return fail("sample rate %d must be positive", c.SampleRate)
	case c.SampleRate%c.Bandwidth != 0:
		return fail("sample rate %d is not a multiple of bandwidth %d", c.SampleRate, c.Bandwidth)
	case c.LDRO < LDROOff || c.LDRO > LDROAuto:
		return fail("ldro mode %d out of range 0..2", int(c.LDRO))
	case c.PreambleLen != 0 && c.PreambleLen < minPreambleRun:
		return fail("preamble length %d shorter than %d", c.PreambleLen, minPreambleRun)
	case c.ImplicitHeader && (c.PayloadLen < 1 || c.PayloadLen > MaxPayloadLen):
		return fail("implicit header payload length %d out of range 1..%d", c.PayloadLen, MaxPayloadLen)
	case c.Search < SearchCanonical || c.Search > SearchCompat:
		return fail("search mode %d out of range 0..1", int(c.Search))
	case c.Workers < 0:
		return fail("workers %d must not be negative", c.Workers)
	}
	return nil
}

// OS is the oversampling factor.
func (c RadioConfig) OS() int { return c.SampleRate / c.Bandwidth }

// N is the number of chirp bins, 2^SF.
func (c RadioConfig) N() int { return 1 << c.SF }

// SPS is the number of samples per symbol.
func (c RadioConfig) SPS() int { return c.N() * c.OS() }

// LDROEnabled resolves the LDRO mode for this SF.
func (c RadioConfig) LDROEnabled() bool {
	switch c.LDRO {
	case LDROOn:
		return true
	case LDROAuto:
		return c.SF >= 11
	}
	return false
}

// PayloadRows is the number of bits carried per payload symbol.
func (c RadioConfig) PayloadRows() int {
	if c.LDROEnabled() {
		return c.SF - 1
	}
	return c.SF
}

func (c RadioConfig) syncWords() []byte {
	if len(c.SyncWords) == 0 {
		return []byte{DefaultSyncWord}
	}
	return c.SyncWords
}

func (c RadioConfig) preambleLen() int {
	if c.PreambleLen == 0 {
		return DefaultPreambleLen
	}
	return c.PreambleLen
}

func (c RadioConfig) workers() int {
	if c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

func (c RadioConfig) String() string {
	return fmt.Sprintf("{SF:%d BW:%d FS:%d CR:4/%d CRC:%t Implicit:%t Len:%d LDRO:%s Sync:% X}",
		c.SF, c.Bandwidth, c.SampleRate, 4+c.CR, c.HasCRC, c.ImplicitHeader, c.PayloadLen, c.LDRO, c.syncWords())
}
