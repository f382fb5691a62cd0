package stepseq

import (
	"io"
	"log/slog"
	"time"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/samples"
	"github.com/cbegin/stepseq-go/internal/scheduler"
)

// Profile bundles the platform-dependent defaults.
type Profile string

const (
	// ProfileDesktop: short lookahead, unlimited polyphony, misses prewarm.
	ProfileDesktop Profile = "desktop"
	// ProfileMobile: long lookahead for timer jitter, 8 voices, misses skip.
	ProfileMobile Profile = "mobile"
)

type profileDefaults struct {
	lookahead time.Duration
	polyphony int
	miss      MissPolicy
}

var profiles = map[Profile]profileDefaults{
	ProfileDesktop: {lookahead: 80 * time.Millisecond, polyphony: 0, miss: MissPrewarm},
	ProfileMobile:  {lookahead: 150 * time.Millisecond, polyphony: 8, miss: MissSkip},
}

// Backend selects the audio device.
type Backend = audio.Backend

const (
	BackendEbiten   = audio.BackendEbiten
	BackendOto      = audio.BackendOto
	BackendHeadless = audio.BackendHeadless
)

// MissPolicy decides what a trigger does when its sample is not loaded yet.
type MissPolicy = scheduler.MissPolicy

const (
	MissSkip    = scheduler.MissSkip
	MissPrewarm = scheduler.MissPrewarm
)

// Sample transport. Identifiers are opaque to the engine; the Fetcher gives
// them meaning.
type (
	Fetcher     = samples.Fetcher
	FetchFunc   = samples.FetchFunc
	FileFetcher = samples.FileFetcher
	HTTPFetcher = samples.HTTPFetcher
	Decoder     = samples.Decoder
	DecodeFunc  = samples.DecodeFunc
)

// CachePolicy is the recency window of the sample cache: past Limit entries
// only the Retain most recently inserted are kept.
type CachePolicy = samples.RecencyWindow

type Option func(*engineConfig)

type engineConfig struct {
	profile       Profile
	backend       Backend
	sampleRate    int
	bpm           int
	lookahead     time.Duration
	tickInterval  time.Duration
	polyphony     *int
	missPolicy    *MissPolicy
	fallbackTone  bool
	fetcher       Fetcher
	decoder       Decoder
	kit           []Track
	cache         CachePolicy
	highTimeout   time.Duration
	normalTimeout time.Duration
	logger        *slog.Logger
	manual        bool
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		profile:    ProfileDesktop,
		backend:    BackendEbiten,
		sampleRate: 48000,
		bpm:        scheduler.DefaultBPM,
		cache:      samples.DefaultWindow,
	}
}

// resolve fills profile-dependent settings that were not set explicitly.
func (c *engineConfig) resolve() {
	p, ok := profiles[c.profile]
	if !ok {
		p = profiles[ProfileDesktop]
	}
	if c.lookahead <= 0 {
		c.lookahead = p.lookahead
	}
	if c.polyphony == nil {
		n := p.polyphony
		c.polyphony = &n
	}
	if c.missPolicy == nil {
		m := p.miss
		c.missPolicy = &m
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.decoder == nil {
		c.decoder = samples.CodecDecoder{SampleRate: c.sampleRate}
	}
	if c.fetcher == nil {
		c.fetcher = samples.Router{HTTP: samples.HTTPFetcher{}, File: samples.FileFetcher{}}
	}
}

func WithProfile(p Profile) Option {
	return func(cfg *engineConfig) {
		cfg.profile = p
	}
}

func WithBackend(b Backend) Option {
	return func(cfg *engineConfig) {
		cfg.backend = b
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *engineConfig) {
		cfg.sampleRate = rate
	}
}

// WithBPM sets the starting tempo. Out-of-range values are clamped.
func WithBPM(bpm int) Option {
	return func(cfg *engineConfig) {
		cfg.bpm = bpm
	}
}

// WithLookahead overrides the profile's scheduling window.
func WithLookahead(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.lookahead = d
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.tickInterval = d
	}
}

// WithPolyphony caps simultaneous voices; 0 means unlimited.
func WithPolyphony(n int) Option {
	return func(cfg *engineConfig) {
		cfg.polyphony = &n
	}
}

func WithMissPolicy(p MissPolicy) Option {
	return func(cfg *engineConfig) {
		cfg.missPolicy = &p
	}
}

// WithFallbackTone plays a short fixed blip for hits whose sample is not
// loaded yet, instead of silence.
func WithFallbackTone(enabled bool) Option {
	return func(cfg *engineConfig) {
		cfg.fallbackTone = enabled
	}
}

// WithTransport replaces how sample identifiers are fetched and decoded. A
// nil argument keeps the default for that half.
func WithTransport(f Fetcher, d Decoder) Option {
	return func(cfg *engineConfig) {
		if f != nil {
			cfg.fetcher = f
		}
		if d != nil {
			cfg.decoder = d
		}
	}
}

// WithKit sets the initial tracks.
func WithKit(tracks ...Track) Option {
	return func(cfg *engineConfig) {
		cfg.kit = append(cfg.kit[:0:0], tracks...)
	}
}

func WithCachePolicy(p CachePolicy) Option {
	return func(cfg *engineConfig) {
		cfg.cache = p
	}
}

// WithLoadTimeouts overrides the high and normal priority load deadlines.
func WithLoadTimeouts(high, normal time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.highTimeout = high
		cfg.normalTimeout = normal
	}
}

// WithLogger routes engine diagnostics to l. The default discards them.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}

// withManualClock disables the ticker; the caller drives the scheduler.
func withManualClock() Option {
	return func(cfg *engineConfig) {
		cfg.manual = true
	}
}
