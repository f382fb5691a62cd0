// Package scheduler is the lookahead loop. A coarse ticker wakes it; on each
// wake it commits every step whose time falls inside the lookahead window,
// measured on the audio clock, and hands the hits to the player at exact
// clock times.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/groove"
	"github.com/cbegin/stepseq-go/internal/pattern"
	"github.com/cbegin/stepseq-go/internal/samples"
)

const (
	MinBPM     = 60
	MaxBPM     = 200
	DefaultBPM = 120

	DefaultTickInterval = 25 * time.Millisecond
	DefaultLookahead    = 80 * time.Millisecond
	DefaultStartEpsilon = 5 * time.Millisecond
	DefaultResumeSettle = 50 * time.Millisecond
)

// Clock is the audio hardware clock.
type Clock interface {
	Now() float64
	Suspended() bool
	Resume() error
}

// Patterns supplies the hits for one step.
type Patterns interface {
	Triggers(step int) []pattern.Trigger
}

// Samples is the non-blocking side of the sample store.
type Samples interface {
	Cached(id string) (*audio.Buffer, bool)
	Prefetch(id string, prio samples.Priority)
	// RetryDue reports a transient failure on the last load of id.
	RetryDue(id string) bool
}

// Player starts voices at absolute clock times.
type Player interface {
	Play(buf *audio.Buffer, trackID string, at float64, volume float64)
	StopAll()
}

// MissPolicy decides what a trigger does when its sample is not cached.
type MissPolicy int

const (
	// MissSkip drops the hit. A sample whose last load failed transiently
	// is reloaded; one never requested stays unloaded.
	MissSkip MissPolicy = iota
	// MissPrewarm drops the hit and starts a high priority load so the next
	// occurrence plays.
	MissPrewarm
)

func (p MissPolicy) String() string {
	if p == MissPrewarm {
		return "prewarm"
	}
	return "skip"
}

func ParseMissPolicy(name string) (MissPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "skip":
		return MissSkip, nil
	case "prewarm", "":
		return MissPrewarm, nil
	default:
		return 0, fmt.Errorf("invalid miss policy %q (expected skip|prewarm)", name)
	}
}

type Config struct {
	BPM          int
	Lookahead    time.Duration
	TickInterval time.Duration
	StartEpsilon time.Duration
	ResumeSettle time.Duration
	MissPolicy   MissPolicy
	// Fallback, when set, is played in place of a sample that is not cached.
	Fallback *audio.Buffer
	// Manual disables the ticker goroutine; the owner drives Tick.
	Manual bool
	Logger *slog.Logger
}

// StepEvent reports a committed step.
type StepEvent struct {
	Step int
	Time float64
	Bar  int
}

// Counters are running totals since construction.
type Counters struct {
	Scheduled  uint64
	Duplicates uint64
	Misses     uint64
	Fallbacks  uint64
}

type Scheduler struct {
	clock    Clock
	patterns Patterns
	samples  Samples
	player   Player
	cfg      Config
	log      *slog.Logger
	bpm      atomic.Int64

	mu      sync.Mutex
	playing bool
	current int
	next    float64
	bar     int
	keys    *recentKeys
	stopCh  chan struct{}
	doneCh  chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan StepEvent
	nextSub int

	scheduled, duplicates, misses, fallbacks atomic.Uint64
}

func New(clock Clock, patterns Patterns, store Samples, player Player, cfg Config) *Scheduler {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.StartEpsilon <= 0 {
		cfg.StartEpsilon = DefaultStartEpsilon
	}
	if cfg.ResumeSettle <= 0 {
		cfg.ResumeSettle = DefaultResumeSettle
	}
	if cfg.BPM == 0 {
		cfg.BPM = DefaultBPM
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Scheduler{
		clock:    clock,
		patterns: patterns,
		samples:  store,
		player:   player,
		cfg:      cfg,
		log:      log,
		keys:     newRecentKeys(),
		subs:     make(map[int]chan StepEvent),
	}
	s.bpm.Store(int64(ClampBPM(cfg.BPM)))
	return s
}

// ClampBPM bounds bpm to [MinBPM, MaxBPM].
func ClampBPM(bpm int) int {
	if bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

// Start resets the cursor and begins scheduling. If the clock is suspended
// one resume is attempted and given ResumeSettle to take effect; playback
// starts either way. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.IsPlaying() {
		return nil
	}
	if s.clock.Suspended() {
		if err := s.clock.Resume(); err != nil {
			s.log.Warn("audio clock resume failed", "err", err)
		}
		t := time.NewTimer(s.cfg.ResumeSettle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		if s.clock.Suspended() {
			s.log.Warn("audio clock still suspended, starting anyway")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return nil
	}
	s.playing = true
	s.current = 0
	s.bar = 0
	s.next = s.clock.Now() + s.cfg.StartEpsilon.Seconds()
	s.keys.reset()
	s.log.Info("scheduler started", "bpm", s.BPM(), "lookahead", s.cfg.Lookahead, "at", s.next)
	s.tickLocked()
	if !s.cfg.Manual {
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run(ctx, s.stopCh, s.doneCh)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.halt()
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop halts scheduling, cuts every voice and resets the cursor. Loads in
// flight keep running. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	if done := s.halt(); done != nil {
		<-done
	}
}

func (s *Scheduler) halt() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return nil
	}
	s.playing = false
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	done := s.doneCh
	s.doneCh = nil
	s.player.StopAll()
	s.keys.reset()
	s.current = 0
	s.next = 0
	s.bar = 0
	s.log.Info("scheduler stopped")
	return done
}

// Tick commits every step that starts before now+lookahead. The ticker calls
// it; offline renders and tests call it directly.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		s.tickLocked()
	}
}

func (s *Scheduler) tickLocked() {
	now := s.clock.Now()
	horizon := now + s.cfg.Lookahead.Seconds()
	for s.next < horizon {
		bpm := s.BPM()
		s.scheduleStepLocked(s.current, s.next, bpm, now)
		s.publish(StepEvent{Step: s.current, Time: s.next, Bar: s.bar})
		s.next += groove.StepDuration(bpm)
		s.current = (s.current + 1) % pattern.NumSteps
		if s.current == 0 {
			s.bar++
		}
	}
	s.keys.purge(now)
}

func (s *Scheduler) scheduleStepLocked(step int, at float64, bpm int, now float64) {
	stepDur := groove.StepDuration(bpm)
	for _, trig := range s.patterns.Triggers(step) {
		if trig.SampleID == "" {
			continue
		}
		if !s.keys.admit(keyFor(trig.TrackID, step, at), now) {
			s.duplicates.Add(1)
			s.log.Debug("duplicate trigger suppressed", "track", trig.TrackID, "step", step, "at", at)
			continue
		}
		when := at + groove.OffsetSeconds(trig.Groove, stepDur)
		if buf, ok := s.samples.Cached(trig.SampleID); ok {
			s.player.Play(buf, trig.TrackID, when, trig.Volume)
			s.scheduled.Add(1)
			continue
		}
		s.misses.Add(1)
		if s.cfg.MissPolicy == MissPrewarm || s.samples.RetryDue(trig.SampleID) {
			s.samples.Prefetch(trig.SampleID, samples.PriorityHigh)
		}
		if s.cfg.Fallback != nil {
			s.player.Play(s.cfg.Fallback, trig.TrackID, when, trig.Volume)
			s.fallbacks.Add(1)
		}
		s.log.Debug("sample not ready", "track", trig.TrackID, "sample", trig.SampleID, "policy", s.cfg.MissPolicy)
	}
}

// SetBPM clamps bpm and applies it from the next step duration on. The
// cursor is not touched. It returns the applied value.
func (s *Scheduler) SetBPM(bpm int) int {
	clamped := ClampBPM(bpm)
	if clamped != bpm {
		s.log.Warn("bpm out of range, clamped", "requested", bpm, "applied", clamped)
	}
	s.bpm.Store(int64(clamped))
	return clamped
}

func (s *Scheduler) BPM() int { return int(s.bpm.Load()) }

// CurrentStep returns the next step the scheduler will commit.
func (s *Scheduler) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// NextEventTime returns the clock time of the next uncommitted step.
func (s *Scheduler) NextEventTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Scheduler) Lookahead() time.Duration { return s.cfg.Lookahead }

func (s *Scheduler) Counters() Counters {
	return Counters{
		Scheduled:  s.scheduled.Load(),
		Duplicates: s.duplicates.Load(),
		Misses:     s.misses.Load(),
		Fallbacks:  s.fallbacks.Load(),
	}
}

// Subscribe registers an observer of committed steps. Events are dropped
// when the channel is full. The returned func unregisters and closes it.
func (s *Scheduler) Subscribe() (<-chan StepEvent, func()) {
	ch := make(chan StepEvent, pattern.NumSteps)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Scheduler) publish(ev StepEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
