// Package config reads engine settings and a drum kit from YAML.
//
//	engine:
//	  profile: desktop
//	  bpm: 120
//	kit:
//	  - id: kick
//	    sample: 808/kick.wav
//	    steps: "x...x...x...x..."
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const numSteps = 16

type Config struct {
	Engine  Engine  `yaml:"engine"`
	Samples Samples `yaml:"samples"`
	Kit     []Track `yaml:"kit"`
}

type Engine struct {
	Profile      string        `yaml:"profile"`
	Backend      string        `yaml:"backend"`
	SampleRate   int           `yaml:"sample_rate"`
	BPM          int           `yaml:"bpm"`
	Lookahead    time.Duration `yaml:"lookahead"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Polyphony    *int          `yaml:"polyphony"`
	MissPolicy   string        `yaml:"miss_policy"`
	FallbackTone bool          `yaml:"fallback_tone"`
}

type Samples struct {
	Root          string            `yaml:"root"`
	BaseURL       string            `yaml:"base_url"`
	Headers       map[string]string `yaml:"headers"`
	CacheLimit    int               `yaml:"cache_limit"`
	CacheRetain   int               `yaml:"cache_retain"`
	HighTimeout   time.Duration     `yaml:"high_timeout"`
	NormalTimeout time.Duration     `yaml:"normal_timeout"`
}

type Track struct {
	ID     string    `yaml:"id"`
	Name   string    `yaml:"name"`
	Sample string    `yaml:"sample"`
	Volume *float64  `yaml:"volume"`
	Steps  string    `yaml:"steps"`
	Groove []float64 `yaml:"groove"`
	Muted  bool      `yaml:"muted"`
}

// Default returns the desktop profile with an empty kit. Fields left zero
// follow the profile.
func Default() Config {
	return Config{
		Engine: Engine{
			Profile:    "desktop",
			Backend:    "ebiten",
			SampleRate: 48000,
			BPM:        120,
		},
		Samples: Samples{
			CacheLimit:  50,
			CacheRetain: 30,
		},
	}
}

// Load reads and validates the file at path on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first problem found. Out-of-range tempos and volumes
// are not errors; the engine clamps them.
func (c Config) Validate() error {
	switch c.Engine.Profile {
	case "desktop", "mobile", "":
	default:
		return fmt.Errorf("engine.profile: unknown profile %q (expected desktop|mobile)", c.Engine.Profile)
	}
	if c.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if c.Engine.Lookahead < 0 || c.Engine.TickInterval < 0 {
		return errors.New("engine.lookahead and engine.tick_interval must not be negative")
	}
	if c.Engine.Polyphony != nil && *c.Engine.Polyphony < 0 {
		return errors.New("engine.polyphony must not be negative")
	}
	if c.Samples.CacheLimit < 0 || c.Samples.CacheRetain < 0 {
		return errors.New("samples.cache_limit and samples.cache_retain must not be negative")
	}
	if c.Samples.CacheRetain > c.Samples.CacheLimit {
		return fmt.Errorf("samples.cache_retain (%d) exceeds cache_limit (%d)", c.Samples.CacheRetain, c.Samples.CacheLimit)
	}
	seen := make(map[string]struct{}, len(c.Kit))
	for i, t := range c.Kit {
		if t.ID == "" {
			return fmt.Errorf("kit[%d]: missing id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("kit[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = struct{}{}
		if _, err := t.StepMask(); err != nil {
			return fmt.Errorf("kit[%d] %s: %w", i, t.ID, err)
		}
		if len(t.Groove) > numSteps {
			return fmt.Errorf("kit[%d] %s: groove has %d entries, max %d", i, t.ID, len(t.Groove), numSteps)
		}
	}
	return nil
}

// StepMask parses Steps. 'x' or 'X' is a hit, '.' or '-' a rest; spaces and
// '|' are ignored so bars can be grouped as "x... x... | ...".
func (t Track) StepMask() ([numSteps]bool, error) {
	var mask [numSteps]bool
	n := 0
	for _, r := range t.Steps {
		switch r {
		case ' ', '|':
			continue
		case 'x', 'X':
			if n < numSteps {
				mask[n] = true
			}
		case '.', '-':
		default:
			return mask, fmt.Errorf("steps: invalid character %q", r)
		}
		n++
	}
	if n != 0 && n != numSteps {
		return mask, fmt.Errorf("steps: want %d steps, got %d", numSteps, n)
	}
	return mask, nil
}

// TrackVolume returns the configured volume, defaulting to 1.
func (t Track) TrackVolume() float64 {
	if t.Volume == nil {
		return 1
	}
	return *t.Volume
}
