package audio

import (
	"sync"
	"sync/atomic"
)

// stopFadeFrames is the ramp applied when a voice is cut short.
const stopFadeFrames = 64

// Voice is one scheduled playback of a Buffer.
type Voice struct {
	buf   *Buffer
	start int64 // absolute frame
	gain  float32
	pos   int

	stopReq atomic.Bool
	fade    int
	done    atomic.Bool
}

// StartFrame returns the clock frame the voice was scheduled for.
func (v *Voice) StartFrame() int64 { return v.start }

// Stop cuts the voice with a short fade. A voice that has not started yet
// never sounds.
func (v *Voice) Stop() { v.stopReq.Store(true) }

// Done reports whether the voice has finished or was stopped.
func (v *Voice) Done() bool { return v.done.Load() }

// Mixer renders scheduled voices and is the audio clock: Now advances only as
// frames are pulled through Process.
type Mixer struct {
	sampleRate int
	rendered   atomic.Int64

	mu     sync.Mutex
	voices []*Voice
}

// NewMixer creates a stereo mixer at sampleRate.
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{sampleRate: sampleRate}
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// Now returns the clock time in seconds.
func (m *Mixer) Now() float64 {
	return float64(m.rendered.Load()) / float64(m.sampleRate)
}

// Frame returns the clock position in frames.
func (m *Mixer) Frame() int64 { return m.rendered.Load() }

// Start schedules buf at clock time at (seconds) with a fixed gain. Times in
// the past start on the next rendered frame.
func (m *Mixer) Start(buf *Buffer, at float64, gain float64) *Voice {
	v := &Voice{
		buf:   buf,
		start: int64(at*float64(m.sampleRate) + 0.5),
		gain:  float32(gain),
	}
	if buf.Frames() == 0 {
		v.done.Store(true)
		return v
	}
	m.mu.Lock()
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return v
}

// Active returns the number of voices not yet finished.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Process fills dst (interleaved stereo) and advances the clock.
func (m *Mixer) Process(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	frames := len(dst) / 2
	base := m.rendered.Load()

	m.mu.Lock()
	kept := m.voices[:0]
	for _, v := range m.voices {
		m.render(v, dst, base, frames)
		if !v.Done() {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
	m.mu.Unlock()

	for i := range dst {
		if dst[i] > 1 {
			dst[i] = 1
		} else if dst[i] < -1 {
			dst[i] = -1
		}
	}
	m.rendered.Add(int64(frames))
}

func (m *Mixer) render(v *Voice, dst []float32, base int64, frames int) {
	if v.stopReq.Load() && v.pos == 0 {
		// Stopped before it was heard.
		v.done.Store(true)
		return
	}
	offset := 0
	if v.start > base {
		if v.start >= base+int64(frames) {
			return
		}
		offset = int(v.start - base)
	}
	total := v.buf.Frames()
	for f := offset; f < frames && v.pos < total; f++ {
		g := v.gain
		if v.stopReq.Load() {
			if v.fade >= stopFadeFrames {
				v.pos = total
				break
			}
			g *= 1 - float32(v.fade)/stopFadeFrames
			v.fade++
		}
		dst[f*2] += v.buf.Data[v.pos*2] * g
		dst[f*2+1] += v.buf.Data[v.pos*2+1] * g
		v.pos++
	}
	if v.pos >= total {
		v.done.Store(true)
	}
}
