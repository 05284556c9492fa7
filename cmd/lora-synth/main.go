// Command lora-synth writes a synthetic LoRa frame as a .cf32 capture with
// a JSON sidecar describing it.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/hashicorp/logutils"
	"github.com/jancona/lorarx/lora"
)

var (
	isDebugArg  *bool    = flag.Bool("debug", false, "Emit debug log messages")
	logDestArg  *string  = flag.String("log", "", "Device/file for log (default stderr)")
	outArg      *string  = flag.String("out", "frame.cf32", "Output capture; the sidecar goes next to it")
	profileArg  *string  = flag.String("profile", "", "INI radio profile with a [radio] section")
	sfArg       *int     = flag.Int("sf", 0, "Spreading factor 7-12 (default from profile)")
	bwArg       *float64 = flag.Float64("bw", 0, "Bandwidth in Hz (default from profile)")
	fsArg       *float64 = flag.Float64("fs", 0, "Sample rate in Hz (default from profile)")
	crArg       *int     = flag.Int("cr", 0, "Coding rate 1-4 (default from profile)")
	noCRCArg    *bool    = flag.Bool("nocrc", false, "Omit the payload CRC")
	implicitArg *bool    = flag.Bool("implicit", false, "Implicit header mode")
	syncArg     *string  = flag.String("sync", "", "Comma separated sync words, 0x12 style (default from profile)")
	payloadArg  *string  = flag.String("payload", "HELLO", "Payload text")
	hexArg      *string  = flag.String("hex", "", "Payload as hex, overrides -payload")
	shiftArg    *int     = flag.Int("shift", 0, "Integer bin offset")
	mirrorArg   *bool    = flag.Bool("mirror", false, "Mirror every data chirp")
	leadArg     *int     = flag.Int("lead", 0, "Silent samples before the frame")
	tailArg     *int     = flag.Int("tail", -1, "Silent samples after the frame (default two symbols)")
	snrArg      *float64 = flag.Float64("snr", math.Inf(1), "Per sample SNR in dB")
	cfoArg      *float64 = flag.Float64("cfo", 0, "Carrier offset in bins")
	seedArg     *uint64  = flag.Uint64("seed", 1, "Noise seed")
	helpArg     *bool    = flag.Bool("h", false, "Print arguments")
)

func main() {
	flag.Parse()
	if *helpArg {
		flag.PrintDefaults()
		return
	}
	setupLogging()

	cfg, err := config()
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	payload := []byte(*payloadArg)
	if *hexArg != "" {
		payload, err = hex.DecodeString(strings.TrimPrefix(*hexArg, "0x"))
		if err != nil {
			log.Fatalf("[ERROR] bad -hex: %v", err)
		}
	}
	if cfg.ImplicitHeader {
		cfg.PayloadLen = len(payload)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	m := lora.NewModulator(cfg.SF, cfg.OS())
	m.BinShift, m.Mirror, m.Lead, m.Tail = *shiftArg, *mirrorArg, *leadArg, *tailArg
	if m.Tail < 0 {
		m.Tail = 2 * cfg.SPS()
	}
	iq, err := m.Frame(cfg, payload)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	if *cfoArg != 0 || !math.IsInf(*snrArg, 1) {
		ch := lora.NewChannel(*snrArg, *cfoArg/float64(cfg.SPS()), *seedArg)
		iq = ch.Apply(iq)
		log.Printf("[DEBUG] channel snr=%.1fdB cfo=%.3f bins seed=%d", *snrArg, *cfoArg, *seedArg)
	}

	if err := lora.WriteCF32File(*outArg, iq); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	sc := lora.SidecarPath(*outArg)
	if err := lora.WriteSidecar(sc, lora.NewSidecar(cfg, payload)); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	fmt.Printf("%s: %d samples, %s, payload %X\n", *outArg, len(iq), cfg, payload)
	log.Printf("[DEBUG] wrote sidecar %s", sc)
}

func setupLogging() {
	var err error
	minLogLevel := "INFO"
	if *isDebugArg {
		minLogLevel = "DEBUG"
	}
	logWriter := os.Stderr
	if *logDestArg != "" {
		logWriter, err = os.OpenFile(*logDestArg, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Error opening log output, exiting: %v", err)
		}
	}
	log.SetOutput(&logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "ERROR"},
		MinLevel: logutils.LogLevel(minLogLevel),
		Writer:   logWriter,
	})
}

// config applies the profile, then explicitly set flags, to DefaultConfig.
func config() (lora.RadioConfig, error) {
	cfg := lora.DefaultConfig()
	var err error
	if *profileArg != "" {
		if cfg, err = lora.LoadProfile(*profileArg, cfg); err != nil {
			return cfg, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sf":
			cfg.SF = *sfArg
		case "bw":
			cfg.Bandwidth = int(math.Round(*bwArg))
		case "fs":
			cfg.SampleRate = int(math.Round(*fsArg))
		case "cr":
			cfg.CR = *crArg
		case "nocrc":
			cfg.HasCRC = !*noCRCArg
		case "implicit":
			cfg.ImplicitHeader = *implicitArg
		}
	})
	if *syncArg != "" {
		var w lora.SyncWords
		list := `["` + strings.Join(strings.Split(*syncArg, ","), `","`) + `"]`
		if err := w.UnmarshalJSON([]byte(list)); err != nil {
			return cfg, fmt.Errorf("bad -sync: %w", err)
		}
		cfg.SyncWords = w
	}
	return cfg, nil
}
