package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// deviceBuffer is the output latency requested from the driver. Schedulers
// must look further ahead than this.
const deviceBuffer = 20 * time.Millisecond

// ErrNotReady is returned by Resume when the platform has not enabled audio
// output yet (for instance before a user gesture).
var ErrNotReady = errors.New("audio output not ready")

// SampleSource renders interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the float32 little-endian byte stream
// expected by ebiten and oto players.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 2 channels * 4 bytes
	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, s := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedAudioContext returns the process-wide ebiten context; ebiten allows
// only one and it cannot change sample rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// EbitenDevice plays a Mixer through ebiten's audio package.
type EbitenDevice struct {
	ctx    *ebitaudio.Context
	player *ebitaudio.Player
	reader io.ReadCloser
}

func NewEbitenDevice(m *Mixer) (*EbitenDevice, error) {
	ctx, err := sharedAudioContext(m.SampleRate())
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(m)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("cannot create ebiten player: %w", err)
	}
	pl.SetBufferSize(deviceBuffer)
	return &EbitenDevice{ctx: ctx, player: pl, reader: reader}, nil
}

// Suspended reports whether the clock is not advancing.
func (d *EbitenDevice) Suspended() bool {
	return !d.ctx.IsReady() || !d.player.IsPlaying()
}

func (d *EbitenDevice) Resume() error {
	d.player.Play()
	if !d.ctx.IsReady() {
		return ErrNotReady
	}
	return nil
}

func (d *EbitenDevice) Close() error {
	d.player.Pause()
	if err := d.player.Close(); err != nil {
		return err
	}
	return d.reader.Close()
}
