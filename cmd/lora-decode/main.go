// Command lora-decode decodes LoRa frames from .cf32 captures.
//
// Radio parameters come from DefaultConfig, then the -profile INI file, then
// the JSON sidecar next to each capture.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/jancona/lorarx/lora"
)

var (
	isDebugArg  *bool          = flag.Bool("debug", false, "Emit debug log messages")
	logDestArg  *string        = flag.String("log", "", "Device/file for log (default stderr)")
	profileArg  *string        = flag.String("profile", "", "INI radio profile with a [radio] section")
	sidecarArg  *string        = flag.String("sidecar", "", "Sidecar JSON (default: capture name with .json)")
	searchArg   *string        = flag.String("search", "", "Payload search: canonical or compat (default from profile)")
	workersArg  *int           = flag.Int("workers", 0, "Compat search parallelism (default GOMAXPROCS)")
	timeoutArg  *time.Duration = flag.Duration("timeout", time.Minute, "Per capture decode timeout")
	selftestArg *bool          = flag.Bool("selftest", false, "Synthesize a frame and decode it")
	helpArg     *bool          = flag.Bool("h", false, "Print arguments")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] capture.cf32 ...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *helpArg {
		flag.Usage()
		return
	}
	setupLogging()

	cfg, err := baseConfig()
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *selftestArg {
		if !selftest(ctx, cfg) {
			os.Exit(1)
		}
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatal("[ERROR] no capture given")
	}
	failed := 0
	for _, path := range flag.Args() {
		if !decodeCapture(ctx, cfg, path) {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("[INFO] %d of %d captures failed", failed, flag.NArg())
		os.Exit(1)
	}
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

	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "ERROR"},
		MinLevel: logutils.LogLevel(minLogLevel),
		Writer:   logWriter,
	}
	log.SetOutput(filter)
	log.Print("[DEBUG] Debug is on")
}

// baseConfig applies the profile and the command line to DefaultConfig.
func baseConfig() (lora.RadioConfig, error) {
	cfg := lora.DefaultConfig()
	var err error
	if *profileArg != "" {
		if cfg, err = lora.LoadProfile(*profileArg, cfg); err != nil {
			return cfg, err
		}
	}
	if *searchArg != "" {
		if cfg.Search, err = lora.ParseSearchMode(*searchArg); err != nil {
			return cfg, err
		}
	}
	if *workersArg != 0 {
		cfg.Workers = *workersArg
	}
	return cfg, nil
}

// decodeCapture decodes one capture and prints the result. It reports
// whether the frame decoded and matched the sidecar's payload, if any.
func decodeCapture(ctx context.Context, cfg lora.RadioConfig, path string) bool {
	scPath := *sidecarArg
	if scPath == "" {
		scPath = lora.SidecarPath(path)
	}
	var want []byte
	sc, err := lora.ReadSidecar(scPath)
	switch {
	case err == nil:
		if cfg, err = sc.Apply(cfg); err != nil {
			log.Printf("[ERROR] %s: %v", scPath, err)
			return false
		}
		if want, err = sc.Payload(); err != nil {
			log.Printf("[ERROR] %s: %v", scPath, err)
			return false
		}
	case errors.Is(err, fs.ErrNotExist) && *sidecarArg == "":
		log.Printf("[DEBUG] no sidecar for %s, using %v", path, cfg)
	default:
		log.Printf("[ERROR] %v", err)
		return false
	}

	rx, err := lora.NewReceiver(cfg)
	if err != nil {
		log.Printf("[ERROR] %s: %v", path, err)
		return false
	}
	iq, err := lora.ReadCF32File(path)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, *timeoutArg)
	defer cancel()
	start := time.Now()
	res := rx.Decode(ctx, iq)
	log.Printf("[DEBUG] %s: %d samples decoded in %v", path, len(iq), time.Since(start))
	printResult(path, res)
	if !res.OK() {
		return false
	}
	if want != nil && !bytes.Equal(res.Payload, want) {
		fmt.Printf("%s: payload does not match sidecar payload_hex %X\n", path, want)
		return false
	}
	return true
}

func printResult(name string, res lora.DecodeResult) {
	if !res.OK() {
		fmt.Printf("%s: %s: %s\n", name, res.Err.Kind, res.Err.Reason)
		if res.Err.Kind != lora.PayloadCrcFailed {
			return
		}
	}
	fmt.Printf("%s: len=%d cr=4/%d crc=%t verified=%t payload=%X %s\n",
		name, res.Header.PayloadLen, 4+res.Header.CR, res.Header.HasCRC, res.Verified,
		res.Payload, strconv.Quote(string(res.Payload)))
	log.Printf("[DEBUG] %s: start=%d header=%d fold=%d cfo=%.4f orientation=%v mapping=%s",
		name, res.Start, res.HeaderStart, res.FoldPhase, res.CFO, res.Orientation, res.Mapping)
}

// selftest synthesizes a frame for cfg and decodes it.
func selftest(ctx context.Context, cfg lora.RadioConfig) bool {
	payload := []byte("HELLO")
	if cfg.ImplicitHeader {
		cfg.PayloadLen = len(payload)
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("[ERROR] %v", err)
		return false
	}
	m := lora.NewModulator(cfg.SF, cfg.OS())
	m.Lead, m.Tail = cfg.SPS()/3, 2*cfg.SPS()
	iq, err := m.Frame(cfg, payload)
	if err != nil {
		log.Printf("[ERROR] synthesizing: %v", err)
		return false
	}
	rx, err := lora.NewReceiver(cfg)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		return false
	}
	res := rx.Decode(ctx, iq)
	printResult("selftest "+cfg.String(), res)
	return res.OK() && bytes.Equal(res.Payload, payload)
}
