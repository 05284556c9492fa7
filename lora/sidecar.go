package lora

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Sidecar is the JSON description stored next to a capture. Absent keys
// leave the corresponding RadioConfig field alone.
type Sidecar struct {
	SF             *int      `json:"sf,omitempty"`
	Bandwidth      *float64  `json:"bw,omitempty"`
	SampleRate     *float64  `json:"samp_rate,omitempty"`
	CR             *int      `json:"cr,omitempty"`
	HasCRC         *flexBool `json:"crc,omitempty"`
	ImplicitHeader *flexBool `json:"impl_header,omitempty"`
	LDRO           *LDROMode `json:"ldro_mode,omitempty"`
	PayloadLen     *int      `json:"payload_len,omitempty"`
	PayloadHex     string    `json:"payload_hex,omitempty"`
	SyncWords      SyncWords `json:"sync_word,omitempty"`
}

// SidecarPath is the sidecar of capture path: the extension replaced by .json.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}

// ReadSidecar reads a sidecar file. When path does not exist, capture.cf32.json
// style names are tried as well.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && strings.HasSuffix(path, ".json") {
		if alt, aerr := os.ReadFile(strings.TrimSuffix(path, ".json") + ".cf32.json"); aerr == nil {
			data, err = alt, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return ParseSidecar(data)
}

// ParseSidecar decodes sidecar JSON. Unknown keys are ignored.
func ParseSidecar(data []byte) (*Sidecar, error) {
	var s Sidecar
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing sidecar: %w", err)
	}
	return &s, nil
}

// WriteSidecar writes s as indented JSON.
func WriteSidecar(path string, s *Sidecar) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// NewSidecar describes cfg and, when not nil, the expected payload.
func NewSidecar(cfg RadioConfig, payload []byte) *Sidecar {
	bw, fs := float64(cfg.Bandwidth), float64(cfg.SampleRate)
	crc, impl := flexBool(cfg.HasCRC), flexBool(cfg.ImplicitHeader)
	s := &Sidecar{
		SF:             &cfg.SF,
		Bandwidth:      &bw,
		SampleRate:     &fs,
		CR:             &cfg.CR,
		HasCRC:         &crc,
		ImplicitHeader: &impl,
		LDRO:           &cfg.LDRO,
		SyncWords:      SyncWords(cfg.syncWords()),
	}
	if payload != nil {
		n := len(payload)
		s.PayloadLen = &n
		s.PayloadHex = hex.EncodeToString(payload)
	}
	return s
}

// Apply overlays the keys present in s onto cfg and validates the result.
func (s *Sidecar) Apply(cfg RadioConfig) (RadioConfig, error) {
	if s.SF != nil {
		cfg.SF = *s.SF
	}
	if s.Bandwidth != nil {
		cfg.Bandwidth = int(math.Round(*s.Bandwidth))
	}
	if s.SampleRate != nil {
		cfg.SampleRate = int(math.Round(*s.SampleRate))
	}
	if s.CR != nil {
		cfg.CR = *s.CR
	}
	if s.HasCRC != nil {
		cfg.HasCRC = bool(*s.HasCRC)
	}
	if s.ImplicitHeader != nil {
		cfg.ImplicitHeader = bool(*s.ImplicitHeader)
	}
	if s.LDRO != nil {
		cfg.LDRO = *s.LDRO
	}
	if s.PayloadLen != nil {
		cfg.PayloadLen = *s.PayloadLen
	}
	if len(s.SyncWords) > 0 {
		cfg.SyncWords = append([]byte(nil), s.SyncWords...)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("sidecar: %w", err)
	}
	return cfg, nil
}

// Config is Apply over DefaultConfig.
func (s *Sidecar) Config() (RadioConfig, error) {
	return s.Apply(DefaultConfig())
}

// Payload returns the expected payload, or nil when the sidecar has none.
func (s *Sidecar) Payload() ([]byte, error) {
	if s.PayloadHex == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ReplaceAll(s.PayloadHex, " ", ""), "0x"))
	if err != nil {
		return nil, fmt.Errorf("payload_hex: %w", err)
	}
	return b, nil
}

// flexBool accepts true/false or a number, nonzero meaning true.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("expected bool or number, got %s", data)
	}
	*b = f != 0
	return nil
}

// UnmarshalJSON accepts the numeric modes 0, 1, 2 or their names.
func (m *LDROMode) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	v, err := ParseLDROMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m LDROMode) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(m))), nil
}

// SyncWords accepts a single sync word or a list of them, each a number or
// a hex string such as "0x34".
type SyncWords []byte

func (w *SyncWords) UnmarshalJSON(data []byte) error {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		list = []json.RawMessage{data}
	}
	out := make(SyncWords, 0, len(list))
	for _, raw := range list {
		v, err := parseSyncWord(string(bytes.Trim(raw, `"`)))
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	*w = out
	return nil
}

func (w SyncWords) MarshalJSON() ([]byte, error) {
	if len(w) == 1 {
		return json.Marshal(int(w[0]))
	}
	ints := make([]int, len(w))
	for i, v := range w {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func parseSyncWord(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("sync word %q: %w", s, err)
	}
	return byte(v), nil
}

// LoadProfile overlays the [radio] section of an INI profile onto cfg. The
// keys are the sidecar's, plus preamble_len, search and workers.
func LoadProfile(path string, cfg RadioConfig) (RadioConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("loading profile: %w", err)
	}
	sec := f.Section("radio")
	ints := []struct {
		key string
		dst *int
	}{
		{"sf", &cfg.SF},
		{"cr", &cfg.CR},
		{"payload_len", &cfg.PayloadLen},
		{"preamble_len", &cfg.PreambleLen},
		{"workers", &cfg.Workers},
	}
	for _, k := range ints {
		if !sec.HasKey(k.key) {
			continue
		}
		if *k.dst, err = sec.Key(k.key).Int(); err != nil {
			return cfg, fmt.Errorf("profile %s: %w", k.key, err)
		}
	}
	for _, k := range []struct {
		key string
		dst *int
	}{{"bw", &cfg.Bandwidth}, {"samp_rate", &cfg.SampleRate}} {
		if !sec.HasKey(k.key) {
			continue
		}
		v, err := sec.Key(k.key).Float64()
		if err != nil {
			return cfg, fmt.Errorf("profile %s: %w", k.key, err)
		}
		*k.dst = int(math.Round(v))
	}
	for _, k := range []struct {
		key string
		dst *bool
	}{{"crc", &cfg.HasCRC}, {"impl_header", &cfg.ImplicitHeader}} {
		if !sec.HasKey(k.key) {
			continue
		}
		if *k.dst, err = sec.Key(k.key).Bool(); err != nil {
			return cfg, fmt.Errorf("profile %s: %w", k.key, err)
		}
	}
	if sec.HasKey("ldro_mode") {
		if cfg.LDRO, err = ParseLDROMode(sec.Key("ldro_mode").String()); err != nil {
			return cfg, fmt.Errorf("profile: %w", err)
		}
	}
	if sec.HasKey("search") {
		if cfg.Search, err = ParseSearchMode(sec.Key("search").String()); err != nil {
			return cfg, fmt.Errorf("profile: %w", err)
		}
	}
	if sec.HasKey("sync_word") {
		cfg.SyncWords = nil
		for _, s := range sec.Key("sync_word").Strings(",") {
			v, err := parseSyncWord(s)
			if err != nil {
				return cfg, fmt.Errorf("profile: %w", err)
			}
			cfg.SyncWords = append(cfg.SyncWords, v)
		}
	}
	return cfg, nil
}
