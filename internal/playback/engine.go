// Package playback turns scheduled hits into mixer voices and owns their
// lifecycle.
package playback

import (
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/cbegin/stepseq-go/internal/audio"
)

// Output starts a buffer at an absolute clock time with a fixed gain.
type Output interface {
	Start(buf *audio.Buffer, at float64, gain float64) *audio.Voice
}

type voice struct {
	v       *audio.Voice
	trackID string
	at      float64
}

// Engine tracks the voices it started. MaxVoices > 0 caps polyphony across
// all tracks by stopping the oldest voice first.
type Engine struct {
	mu        sync.Mutex
	out       Output
	maxVoices int
	voices    []voice
	stolen    uint64
	log       *slog.Logger
}

func New(out Output, maxVoices int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if maxVoices < 0 {
		maxVoices = 0
	}
	return &Engine{out: out, maxVoices: maxVoices, log: log}
}

// Play starts buf at time at with gain volume. The voice runs to the end of
// the buffer unless the polyphony cap or StopAll cuts it. A hit with a
// non-finite time or volume is dropped.
func (e *Engine) Play(buf *audio.Buffer, trackID string, at float64, volume float64) {
	if buf == nil || buf.Frames() == 0 {
		return
	}
	if math.IsNaN(at) || math.IsInf(at, 0) || math.IsNaN(volume) || math.IsInf(volume, 0) {
		e.log.Warn("hit dropped", "track", trackID, "at", at, "volume", volume)
		return
	}
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	for e.maxVoices > 0 && len(e.voices) >= e.maxVoices {
		e.stopOldestLocked()
	}
	v := e.out.Start(buf, at, volume)
	e.voices = append(e.voices, voice{v: v, trackID: trackID, at: at})
}

// StopAll cuts every voice, including ones scheduled in the future.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range e.voices {
		v.v.Stop()
	}
	e.voices = e.voices[:0]
}

// ActiveVoices returns the number of voices still sounding or pending.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	return len(e.voices)
}

// Stolen returns how many voices the polyphony cap has cut.
func (e *Engine) Stolen() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stolen
}

func (e *Engine) MaxVoices() int { return e.maxVoices }

func (e *Engine) pruneLocked() {
	kept := e.voices[:0]
	for _, v := range e.voices {
		if !v.v.Done() {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(e.voices); i++ {
		e.voices[i] = voice{}
	}
	e.voices = kept
}

func (e *Engine) stopOldestLocked() {
	oldest := 0
	for i := 1; i < len(e.voices); i++ {
		if e.voices[i].at < e.voices[oldest].at {
			oldest = i
		}
	}
	v := e.voices[oldest]
	v.v.Stop()
	e.voices = append(e.voices[:oldest], e.voices[oldest+1:]...)
	e.stolen++
	e.log.Debug("voice stolen", "track", v.trackID, "at", v.at, "cap", e.maxVoices)
}
