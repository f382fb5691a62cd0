package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cbegin/stepseq-go"
	"github.com/cbegin/stepseq-go/internal/config"
)

// defaultKit is used when no -config is given; sample ids resolve under -samples.
const defaultKit = `
kit:
  - id: kick
    sample: kick.wav
    steps: "x...x...x...x..."
  - id: snare
    sample: snare.wav
    steps: "....x.......x..."
  - id: hat
    sample: hat.wav
    volume: 0.6
    steps: "x.x.x.x.x.x.x.x."
    groove: [0, 30, 0, 30, 0, 30, 0, 30, 0, 30, 0, 30, 0, 30, 0, 30]
`

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML engine/kit file")
		samplesDir = flag.String("samples", "", "directory relative sample ids resolve under")
		baseURL    = flag.String("base-url", "", "base URL for relative sample ids fetched over HTTP")
		profile    = flag.String("profile", "", "platform profile: desktop|mobile")
		backend    = flag.String("backend", "", "audio backend: ebiten|oto|headless")
		bpm        = flag.Int("bpm", 0, "tempo (60-200)")
		duration   = flag.Duration("duration", 0, "stop live playback after this long (0 = until interrupted)")
		bars       = flag.Int("bars", 4, "bars to write with -render or -midi")
		renderPath = flag.String("render", "", "write an offline WAV render to this path instead of playing")
		midiPath   = flag.String("midi", "", "write the pattern as a MIDI file to this path instead of playing")
		verbose    = flag.Bool("v", false, "log engine diagnostics to stderr")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *samplesDir != "" {
		cfg.Samples.Root = *samplesDir
	}
	if *baseURL != "" {
		cfg.Samples.BaseURL = *baseURL
	}
	if *profile != "" {
		cfg.Engine.Profile = *profile
	}
	if *backend != "" {
		cfg.Engine.Backend = *backend
	}
	if *bpm != 0 {
		cfg.Engine.BPM = *bpm
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts, err := stepseq.ConfigOptions(cfg)
	if err != nil {
		log.Fatal(err)
	}
	opts = append(opts, stepseq.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *midiPath != "":
		if err := writeMIDI(*midiPath, opts, *bars); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %d bars to %s\n", *bars, *midiPath)
	case *renderPath != "":
		wav, err := stepseq.RenderWAV(ctx, *bars, opts...)
		if err != nil {
			log.Fatal(err)
		}
		if err := os.WriteFile(*renderPath, wav, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("rendered %d bars to %s\n", *bars, *renderPath)
	default:
		if err := play(ctx, opts, *duration); err != nil {
			log.Fatal(err)
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Parse([]byte(defaultKit))
	}
	return config.Load(path)
}

func writeMIDI(path string, opts []stepseq.Option, bars int) error {
	opts = append(opts, stepseq.WithBackend(stepseq.BackendHeadless))
	e, err := stepseq.NewEngine(opts...)
	if err != nil {
		return err
	}
	defer e.Close()
	var buf bytes.Buffer
	if err := e.ExportMIDI(&buf, bars); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func play(ctx context.Context, opts []stepseq.Option, duration time.Duration) error {
	e, err := stepseq.NewEngine(opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Preload(ctx); err != nil {
		log.Printf("some samples are unavailable: %v", err)
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	events, unsubscribe := e.Subscribe()
	defer unsubscribe()
	if err := e.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("playing at %d bpm, ctrl+c to stop\n", e.BPM())
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			st := e.CacheStats()
			fmt.Printf("\nstopped; cache %d/%d entries, %d hits, %d misses\n", st.Entries, st.Limit, st.Hits, st.Misses)
			return nil
		case ev := <-events:
			if ev.Step == 0 {
				fmt.Printf("\nbar %3d ", ev.Bar+1)
			}
			fmt.Print(stepGlyph(ev.Step))
		}
	}
}

func stepGlyph(step int) string {
	if step%4 == 0 {
		return "|"
	}
	return "."
}
