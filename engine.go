// Package stepseq is a real-time 16-step drum sequencer core. Tracks hold
// step patterns and point at samples by identifier; the engine loads the
// samples in the background and plays every hit at an exact audio clock time.
package stepseq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/groove"
	"github.com/cbegin/stepseq-go/internal/pattern"
	"github.com/cbegin/stepseq-go/internal/playback"
	"github.com/cbegin/stepseq-go/internal/samples"
	"github.com/cbegin/stepseq-go/internal/scheduler"
)

const NumSteps = pattern.NumSteps

const (
	MinBPM = scheduler.MinBPM
	MaxBPM = scheduler.MaxBPM
)

const (
	fallbackFreq   = 880
	fallbackLength = 60 * time.Millisecond
)

type (
	// Track is one instrument lane: its pattern, volume, sample and groove.
	Track = pattern.Track
	// GrooveOffset is the micro-timing of one step of a track.
	GrooveOffset = groove.Offset
	// StepEvent reports a step the scheduler has committed.
	StepEvent = scheduler.StepEvent
	// CacheStats is a snapshot of the sample cache.
	CacheStats = samples.Stats
)

// NewTrack returns an empty track at full volume.
func NewTrack(id, name string) Track { return pattern.NewTrack(id, name) }

type Engine struct {
	cfg      engineConfig
	out      *audio.Output
	patterns *pattern.Store
	samples  *samples.Store
	voices   *playback.Engine
	sched    *scheduler.Scheduler

	closeOnce sync.Once
	closeErr  error
}

// NewEngine opens the audio device and wires the engine. Tracks from
// WithKit are added in order.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if _, ok := profiles[cfg.profile]; !ok {
		return nil, fmt.Errorf("unknown profile %q", cfg.profile)
	}
	cfg.resolve()

	out, err := audio.NewOutput(cfg.backend, cfg.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", cfg.backend, err)
	}
	return newEngine(cfg, out), nil
}

func newEngine(cfg engineConfig, out *audio.Output) *Engine {
	log := cfg.logger
	bpm := scheduler.ClampBPM(cfg.bpm)

	store := samples.New(cfg.fetcher, cfg.decoder, samples.Options{
		Window:        cfg.cache,
		HighTimeout:   cfg.highTimeout,
		NormalTimeout: cfg.normalTimeout,
		Logger:        log.With("component", "samples"),
	})
	patterns := pattern.NewStore(bpm, log.With("component", "pattern"))
	for _, t := range cfg.kit {
		patterns.AddTrack(t)
	}
	voices := playback.New(out, *cfg.polyphony, log.With("component", "playback"))

	var fallback *audio.Buffer
	if cfg.fallbackTone {
		fallback = audio.Blip(cfg.sampleRate, fallbackFreq, fallbackLength)
	}
	sched := scheduler.New(out, patterns, store, voices, scheduler.Config{
		BPM:          bpm,
		Lookahead:    cfg.lookahead,
		TickInterval: cfg.tickInterval,
		MissPolicy:   *cfg.missPolicy,
		Fallback:     fallback,
		Manual:       cfg.manual,
		Logger:       log.With("component", "scheduler"),
	})
	log.Debug("engine ready",
		"profile", cfg.profile,
		"backend", cfg.backend,
		"sample_rate", cfg.sampleRate,
		"lookahead", cfg.lookahead,
		"polyphony", *cfg.polyphony,
		"miss_policy", *cfg.missPolicy,
	)
	return &Engine{
		cfg:      cfg,
		out:      out,
		patterns: patterns,
		samples:  store,
		voices:   voices,
		sched:    sched,
	}
}

// Start begins playback from step 0. Every selected sample that is not
// cached yet starts loading first so early hits have a chance to land.
func (e *Engine) Start(ctx context.Context) error {
	for _, id := range e.patterns.SampleIDs() {
		e.samples.Prefetch(id, samples.PriorityHigh)
	}
	return e.sched.Start(ctx)
}

// Stop halts playback and silences every voice. Sample loads in flight keep
// running.
func (e *Engine) Stop() { e.sched.Stop() }

func (e *Engine) IsPlaying() bool { return e.sched.IsPlaying() }

// CurrentStep returns the next step to be scheduled, 0 to 15.
func (e *Engine) CurrentStep() int { return e.sched.CurrentStep() }

// SetBPM clamps bpm to [MinBPM, MaxBPM] and applies it from the next step
// without restarting. It returns the applied tempo.
func (e *Engine) SetBPM(bpm int) int {
	applied := e.sched.SetBPM(bpm)
	e.patterns.SetTempo(applied)
	return applied
}

func (e *Engine) BPM() int { return e.sched.BPM() }

func (e *Engine) AddTrack(t Track) {
	e.patterns.AddTrack(t)
	if t.SelectedSampleID != "" {
		e.samples.Prefetch(t.SelectedSampleID, samples.PriorityNormal)
	}
}

func (e *Engine) SetStep(trackID string, step int, active bool) {
	e.patterns.SetStep(trackID, step, active)
}

// ToggleStep flips a step and returns its new state.
func (e *Engine) ToggleStep(trackID string, step int) bool {
	return e.patterns.ToggleStep(trackID, step)
}

// SetVolume sets a track's gain, clamped to [0, 1]. Voices already
// scheduled keep the gain they started with.
func (e *Engine) SetVolume(trackID string, volume float64) {
	e.patterns.SetVolume(trackID, volume)
}

// SetSelectedSample points a track at a sample and starts loading it.
func (e *Engine) SetSelectedSample(trackID, sampleID string) {
	e.patterns.SetSelectedSample(trackID, sampleID)
	if _, ok := e.patterns.Track(trackID); ok && sampleID != "" {
		e.samples.Prefetch(sampleID, samples.PriorityHigh)
	}
}

func (e *Engine) SetMuted(trackID string, muted bool) {
	e.patterns.SetMuted(trackID, muted)
}

// SetGroove sets a step's timing offset as a percentage of the step, clamped
// to [-75, 75]. Negative is early.
func (e *Engine) SetGroove(trackID string, step int, percent float64) {
	e.patterns.SetGrooveOffset(trackID, step, percent)
}

func (e *Engine) ClearTrack(trackID string) { e.patterns.ClearTrack(trackID) }

func (e *Engine) Track(id string) (Track, bool) { return e.patterns.Track(id) }

func (e *Engine) Tracks() []Track { return e.patterns.Tracks() }

// Subscribe returns a channel of committed steps and a func that closes it.
// Slow receivers miss events rather than stall the scheduler.
func (e *Engine) Subscribe() (<-chan StepEvent, func()) { return e.sched.Subscribe() }

func (e *Engine) CacheStats() CacheStats { return e.samples.Stats() }

// ActiveVoices returns how many voices are sounding or queued.
func (e *Engine) ActiveVoices() int { return e.voices.ActiveVoices() }

// Preload loads every selected sample and waits. Failures are joined; the
// engine stays usable and the failed tracks are silent.
func (e *Engine) Preload(ctx context.Context) error {
	return e.samples.Preload(ctx, e.patterns.SampleIDs(), samples.PriorityNormal)
}

// Reload drops a sample from the cache and its remembered failure, then
// loads it again.
func (e *Engine) Reload(ctx context.Context, sampleID string) error {
	e.samples.Forget(sampleID)
	_, err := e.samples.Load(ctx, sampleID, samples.PriorityHigh)
	return err
}

// Close stops playback and releases the audio device.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.sched.Stop()
		e.closeErr = e.out.Close()
	})
	return e.closeErr
}
