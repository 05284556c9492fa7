package lora

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/icza/gog"
)

func TestParseSidecar(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    RadioConfig
		payload []byte
	}{
		{
			"typical",
			`{"sf": 7, "bw": 125000, "cr": 2, "crc": true, "impl_header": false, "ldro_mode": 2,
			  "samp_rate": 500000.0, "payload_len": 5, "payload_hex": "48454c4c4f", "sync_word": 18}`,
			func() RadioConfig { c := helloConfig(); c.PayloadLen = 5; return c }(),
			[]byte("HELLO"),
		},
		{
			"sync word list and numeric bools",
			`{"sf": 9, "bw": 125e3, "samp_rate": 2.5e5, "cr": 4, "crc": 0, "impl_header": 1,
			  "payload_len": 12, "ldro_mode": "on", "sync_word": [52, "0x12"], "extra": "ignored"}`,
			RadioConfig{
				SF: 9, Bandwidth: 125000, SampleRate: 250000, CR: 4, HasCRC: false,
				ImplicitHeader: true, PayloadLen: 12, LDRO: LDROOn,
				SyncWords: []byte{0x34, 0x12}, PreambleLen: DefaultPreambleLen,
			},
			nil,
		},
		{
			"defaults",
			`{}`,
			DefaultConfig(),
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := gog.Must(ParseSidecar([]byte(tt.json)))
			cfg, err := sc.Config()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(cfg, tt.want) {
				t.Errorf("Config() = %v, want %v", cfg, tt.want)
			}
			if p := gog.Must(sc.Payload()); !bytes.Equal(p, tt.payload) {
				t.Errorf("Payload() = %X, want %X", p, tt.payload)
			}
		})
	}
}

func TestParseSidecarErrors(t *testing.T) {
	for _, js := range []string{
		`{"sf": "seven"}`,
		`{"crc": "yes"}`,
		`{"ldro_mode": 7}`,
		`{"sync_word": 300}`,
		`[1, 2]`,
	} {
		if _, err := ParseSidecar([]byte(js)); err == nil {
			t.Errorf("ParseSidecar(%s) succeeded", js)
		}
	}
	sc := gog.Must(ParseSidecar([]byte(`{"sf": 6}`)))
	if _, err := sc.Config(); err == nil {
		t.Error("SF6 sidecar produced a config")
	}
	sc = gog.Must(ParseSidecar([]byte(`{"payload_hex": "4g"}`)))
	if _, err := sc.Payload(); err == nil {
		t.Error("bad payload_hex decoded")
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	cfg := helloConfig()
	cfg.SyncWords = []byte{0x34, 0x12}
	path := filepath.Join(t.TempDir(), "capture.json")
	if err := WriteSidecar(path, NewSidecar(cfg, []byte{0xDE, 0xAD})); err != nil {
		t.Fatal(err)
	}
	sc := gog.Must(ReadSidecar(path))
	got := gog.Must(sc.Config())
	cfg.PayloadLen = 2
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip config = %v, want %v", got, cfg)
	}
	if p := gog.Must(sc.Payload()); !bytes.Equal(p, []byte{0xDE, 0xAD}) {
		t.Errorf("round trip payload = %X", p)
	}
}

func TestSidecarPath(t *testing.T) {
	dir := t.TempDir()
	if got := SidecarPath(filepath.Join(dir, "a.cf32")); got != filepath.Join(dir, "a.json") {
		t.Errorf("SidecarPath = %s", got)
	}
	// capture.cf32.json is found too.
	alt := filepath.Join(dir, "b.cf32.json")
	if err := os.WriteFile(alt, []byte(`{"sf": 8}`), 0644); err != nil {
		t.Fatal(err)
	}
	sc, err := ReadSidecar(SidecarPath(filepath.Join(dir, "b.cf32")))
	if err != nil || sc.SF == nil || *sc.SF != 8 {
		t.Errorf("ReadSidecar = %v, %v", sc, err)
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio.ini")
	profile := `; test profile
[radio]
sf = 10
bw = 250000
samp_rate = 1000000
cr = 3
crc = false
ldro_mode = on
sync_word = 0x34, 0x12
preamble_len = 12
search = compat
workers = 2
`
	if err := os.WriteFile(path, []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadProfile(path, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	want := RadioConfig{
		SF: 10, Bandwidth: 250000, SampleRate: 1000000, CR: 3, HasCRC: false,
		LDRO: LDROOn, SyncWords: []byte{0x34, 0x12}, PreambleLen: 12,
		Search: SearchCompat, Workers: 2,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadProfile = %v, want %v", got, want)
	}

	bad := filepath.Join(t.TempDir(), "bad.ini")
	if err := os.WriteFile(bad, []byte("[radio]\nsf = seven\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(bad, DefaultConfig()); err == nil {
		t.Error("LoadProfile accepted sf = seven")
	}
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.ini"), DefaultConfig()); err == nil {
		t.Error("LoadProfile of a missing file succeeded")
	}
}

func TestCF32(t *testing.T) {
	iq := []complex64{complex(1, -1), complex(0.5, 0.25), 0, complex(-3, 1e-3)}
	var buf bytes.Buffer
	if err := WriteCF32(&buf, iq); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 32 {
		t.Fatalf("wrote %d bytes, want 32", buf.Len())
	}
	// 1.0 little-endian
	if !bytes.Equal(buf.Bytes()[:4], []byte{0x00, 0x00, 0x80, 0x3F}) {
		t.Errorf("first float = % X", buf.Bytes()[:4])
	}
	got, err := ReadCF32(bytes.NewReader(buf.Bytes()))
	if err != nil || !reflect.DeepEqual(got, iq) {
		t.Errorf("ReadCF32 = %v, %v", got, err)
	}
	if _, err := ReadCF32(bytes.NewReader(buf.Bytes()[:30])); err == nil {
		t.Error("ReadCF32 accepted a partial sample")
	}

	path := filepath.Join(t.TempDir(), "x.cf32")
	if err := WriteCF32File(path, iq); err != nil {
		t.Fatal(err)
	}
	if got := gog.Must(ReadCF32File(path)); !reflect.DeepEqual(got, iq) {
		t.Errorf("ReadCF32File = %v", got)
	}
}
