package stepseq

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/samples"
)

// countingTransport serves every id as a buffer of ones, except ids listed in
// missing.
type countingTransport struct {
	frames  int
	missing map[string]bool
	mu      sync.Mutex
	fetches map[string]int
}

func newCountingTransport(frames int, missing ...string) *countingTransport {
	t := &countingTransport{frames: frames, missing: map[string]bool{}, fetches: map[string]int{}}
	for _, id := range missing {
		t.missing[id] = true
	}
	return t
}

func (t *countingTransport) Fetch(ctx context.Context, id string) ([]byte, error) {
	t.mu.Lock()
	t.fetches[id]++
	t.mu.Unlock()
	if t.missing[id] {
		return nil, errors.New("404")
	}
	return []byte(id), nil
}

func (t *countingTransport) Decode(data []byte) (*audio.Buffer, error) {
	buf := &audio.Buffer{Data: make([]float32, t.frames*2), SampleRate: 48000}
	for i := range buf.Data {
		buf.Data[i] = 1
	}
	return buf, nil
}

func (t *countingTransport) Fetches(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fetches[id]
}

func kickTrack(steps ...int) Track {
	t := NewTrack("kick", "Kick")
	t.SelectedSampleID = "kick.wav"
	for _, s := range steps {
		t.Steps[s] = true
	}
	return t
}

func headlessEngine(t *testing.T, opts ...Option) (*Engine, *countingTransport) {
	t.Helper()
	tr := newCountingTransport(100)
	opts = append([]Option{WithBackend(BackendHeadless), WithTransport(tr, tr)}, opts...)
	e, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, tr
}

func TestEngineControlSurfaceClamps(t *testing.T) {
	e, _ := headlessEngine(t, WithKit(kickTrack(0)))
	e.SetVolume("kick", 150)
	if tr, _ := e.Track("kick"); tr.Volume != 1 {
		t.Fatalf("volume = %v, want 1", tr.Volume)
	}
	e.SetVolume("kick", -3)
	if tr, _ := e.Track("kick"); tr.Volume != 0 {
		t.Fatalf("volume = %v, want 0", tr.Volume)
	}
	if got := e.SetBPM(500); got != MaxBPM || e.BPM() != MaxBPM {
		t.Fatalf("SetBPM(500) = %d, BPM() = %d", got, e.BPM())
	}
	if got := e.SetBPM(1); got != MinBPM {
		t.Fatalf("SetBPM(1) = %d", got)
	}
	e.SetGroove("kick", 4, -90)
	if tr, _ := e.Track("kick"); tr.Groove[4].OffsetPercent != -75 {
		t.Fatalf("groove = %v, want -75", tr.Groove[4].OffsetPercent)
	}
	e.SetVolume("kick", 0.3)
	e.SetVolume("kick", math.NaN())
	e.SetGroove("kick", 4, math.NaN())
	if tr, _ := e.Track("kick"); tr.Volume != 0.3 || tr.Groove[4].OffsetPercent != -75 {
		t.Fatalf("NaN was stored: volume %v groove %v", tr.Volume, tr.Groove[4].OffsetPercent)
	}
}

func TestEngineTempoRetimesGroove(t *testing.T) {
	e, _ := headlessEngine(t, WithKit(kickTrack(4)), WithBPM(100))
	e.SetGroove("kick", 4, -50)
	if tr, _ := e.Track("kick"); !nearMs(tr.Groove[4].OffsetMs, -56.25) {
		t.Fatalf("offset at 100 bpm = %v ms", tr.Groove[4].OffsetMs)
	}
	e.SetBPM(200)
	if tr, _ := e.Track("kick"); !nearMs(tr.Groove[4].OffsetMs, -28.125) {
		t.Fatalf("offset at 200 bpm = %v ms", tr.Groove[4].OffsetMs)
	}
}

func nearMs(a, b float64) bool { return a-b < 1e-6 && b-a < 1e-6 }

func TestEngineUnknownTrackIsNoop(t *testing.T) {
	e, tr := headlessEngine(t, WithKit(kickTrack()))
	e.SetStep("cowbell", 3, true)
	e.SetVolume("cowbell", 0.2)
	e.SetSelectedSample("cowbell", "cowbell.wav")
	e.SetStep("kick", 16, true)
	e.SetStep("kick", -1, true)
	if len(e.Tracks()) != 1 {
		t.Fatalf("tracks = %d", len(e.Tracks()))
	}
	if got, _ := e.Track("kick"); got.Steps != [NumSteps]bool{} {
		t.Fatalf("out of range step changed the pattern: %v", got.Steps)
	}
	time.Sleep(10 * time.Millisecond)
	if tr.Fetches("cowbell.wav") != 0 {
		t.Fatalf("unknown track triggered a load")
	}
}

func TestEngineProfiles(t *testing.T) {
	desk, _ := headlessEngine(t)
	if desk.cfg.lookahead != 80*time.Millisecond || *desk.cfg.polyphony != 0 || *desk.cfg.missPolicy != MissPrewarm {
		t.Fatalf("desktop = %v %v %v", desk.cfg.lookahead, *desk.cfg.polyphony, *desk.cfg.missPolicy)
	}
	mob, _ := headlessEngine(t, WithProfile(ProfileMobile))
	if mob.cfg.lookahead != 150*time.Millisecond || mob.voices.MaxVoices() != 8 || *mob.cfg.missPolicy != MissSkip {
		t.Fatalf("mobile = %v %v %v", mob.cfg.lookahead, mob.voices.MaxVoices(), *mob.cfg.missPolicy)
	}
	custom, _ := headlessEngine(t, WithProfile(ProfileMobile), WithPolyphony(2), WithLookahead(40*time.Millisecond))
	if custom.voices.MaxVoices() != 2 || custom.sched.Lookahead() != 40*time.Millisecond {
		t.Fatalf("explicit options should win over the profile")
	}
}

func TestNewEngineRejectsBadArguments(t *testing.T) {
	if _, err := NewEngine(WithBackend(BackendHeadless), WithSampleRate(0)); err == nil {
		t.Fatalf("expected sample rate error")
	}
	if _, err := NewEngine(WithBackend(BackendHeadless), WithProfile("tablet")); err == nil {
		t.Fatalf("expected profile error")
	}
	if _, err := NewEngine(WithBackend("alsa")); err == nil {
		t.Fatalf("expected backend error")
	}
}

func TestSetSelectedSamplePrewarms(t *testing.T) {
	e, tr := headlessEngine(t, WithKit(NewTrack("snare", "Snare")))
	e.SetSelectedSample("snare", "snare.wav")
	deadline := time.Now().Add(2 * time.Second)
	for e.CacheStats().Entries != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("sample never cached: %+v", e.CacheStats())
		}
		time.Sleep(time.Millisecond)
	}
	if tr.Fetches("snare.wav") != 1 {
		t.Fatalf("fetches = %d", tr.Fetches("snare.wav"))
	}
}

func TestPreloadJoinsFailures(t *testing.T) {
	tr := newCountingTransport(10, "missing.wav")
	hat := NewTrack("hat", "Hat")
	hat.SelectedSampleID = "missing.wav"
	e, err := NewEngine(WithBackend(BackendHeadless), WithTransport(tr, tr), WithKit(kickTrack(0), hat))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	err = e.Preload(context.Background())
	if !errors.Is(err, samples.ErrFetch) {
		t.Fatalf("err = %v, want ErrFetch", err)
	}
	st := e.CacheStats()
	if st.Entries != 1 || st.Failures != 1 || st.Limit != 50 || st.Retain != 30 {
		t.Fatalf("stats = %+v", st)
	}
	if err := e.Reload(context.Background(), "kick.wav"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if tr.Fetches("kick.wav") != 2 {
		t.Fatalf("reload should refetch, fetches = %d", tr.Fetches("kick.wav"))
	}
}

func TestEngineDrivenByHeadlessClock(t *testing.T) {
	tr := newCountingTransport(100)
	cfg := defaultEngineConfig()
	for _, opt := range []Option{WithTransport(tr, tr), WithKit(kickTrack(0, 8)), withManualClock()} {
		opt(&cfg)
	}
	cfg.resolve()
	out := audio.NewHeadlessOutput(cfg.sampleRate)
	e := newEngine(cfg, out)
	defer e.Close()

	if err := e.Preload(context.Background()); err != nil {
		t.Fatalf("preload: %v", err)
	}
	events, cancel := e.Subscribe()
	defer cancel()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !e.IsPlaying() {
		t.Fatalf("not playing")
	}

	var steps []int
	var played atomic.Int32
	block := make([]float32, 512)
	for i := 0; i < 200; i++ { // ~1.07 s at 48 kHz
		e.sched.Tick()
		out.Process(block)
		if block[0] != 0 || block[len(block)-2] != 0 {
			played.Add(1)
		}
		for len(events) > 0 {
			steps = append(steps, (<-events).Step)
		}
	}
	if played.Load() == 0 {
		t.Fatalf("no audio rendered")
	}
	if len(steps) < 9 || steps[0] != 0 || steps[8] != 8 {
		t.Fatalf("steps = %v", steps)
	}

	e.Stop()
	if e.IsPlaying() || e.CurrentStep() != 0 {
		t.Fatalf("after stop: playing=%v step=%d", e.IsPlaying(), e.CurrentStep())
	}
	if e.ActiveVoices() != 0 {
		t.Fatalf("voices after stop = %d", e.ActiveVoices())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e, _ := headlessEngine(t)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
