package lora

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a decode did not fully succeed.
type ErrorKind int

const (
	NoFrameDetected ErrorKind = iota + 1
	HeaderChecksumFailed
	PayloadCrcFailed
	MalformedInput
	UnsupportedConfig
)

func (k ErrorKind) String() string {
	switch k {
	case NoFrameDetected:
		return "NoFrameDetected"
	case HeaderChecksumFailed:
		return "HeaderChecksumFailed"
	case PayloadCrcFailed:
		return "PayloadCrcFailed"
	case MalformedInput:
		return "MalformedInput"
	case UnsupportedConfig:
		return "UnsupportedConfig"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels for errors.Is. Every *DecodeError matches the sentinel of its kind.
var (
	ErrNoFrameDetected      = errors.New("no frame detected")
	ErrHeaderChecksumFailed = errors.New("header checksum failed")
	ErrPayloadCrcFailed     = errors.New("payload crc failed")
	ErrMalformedInput       = errors.New("malformed input")
	ErrUnsupportedConfig    = errors.New("unsupported config")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case NoFrameDetected:
		return ErrNoFrameDetected
	case HeaderChecksumFailed:
		return ErrHeaderChecksumFailed
	case PayloadCrcFailed:
		return ErrPayloadCrcFailed
	case MalformedInput:
		return ErrMalformedInput
	case UnsupportedConfig:
		return ErrUnsupportedConfig
	}
	return nil
}

// DecodeError reports the kind of failure and a human readable reason.
type DecodeError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func newDecodeError(kind ErrorKind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// DecodeResult is the outcome of one frame decode. Err is nil on success.
// On failure the remaining fields hold whatever was recovered before the
// failing stage.
type DecodeResult struct {
	Payload     []byte
	Header      HeaderFields
	Orientation Orientation
	// Verified is set when the payload CRC matched.
	Verified bool
	Err      *DecodeError

	// Diagnostics.
	Start          int
	HeaderStart    int
	FoldPhase      int
	CFO            float64
	HeaderSymbols  []Symbol
	PayloadSymbols []Symbol
	Mapping        string
}

// OK reports whether the decode succeeded.
func (r DecodeResult) OK() bool { return r.Err == nil }

func (r DecodeResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("{Err:%v Header:%v Orientation:%v}", r.Err, r.Header, r.Orientation)
	}
	return fmt.Sprintf("{Payload:%X Header:%v Orientation:%v Verified:%t}",
		r.Payload, r.Header, r.Orientation, r.Verified)
}
