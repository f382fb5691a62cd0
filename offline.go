package stepseq

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/groove"
)

// renderQuantum is the block size of an offline render, in frames. Each block
// is preceded by one scheduler tick, as a device callback would be.
const renderQuantum = 256

// RenderBars plays bars of the kit without an audio device and returns the
// interleaved stereo mix. Every selected sample is loaded before the first
// step; samples that fail to load are silent.
func RenderBars(ctx context.Context, bars int, opts ...Option) ([]float32, error) {
	if bars <= 0 {
		return nil, errors.New("bars must be positive")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg.backend = BackendHeadless
	cfg.manual = true
	cfg.resolve()

	out := audio.NewHeadlessOutput(cfg.sampleRate)
	e := newEngine(cfg, out)
	defer e.Close()

	if err := e.Preload(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		cfg.logger.Warn("rendering without some samples", "err", err)
	}
	if err := e.sched.Start(ctx); err != nil {
		return nil, err
	}

	seconds := float64(bars*NumSteps) * groove.StepDuration(e.BPM())
	frames := int(math.Round(seconds * float64(cfg.sampleRate)))
	mix := make([]float32, frames*2)
	for off := 0; off < frames; off += renderQuantum {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(renderQuantum, frames-off)
		e.sched.Tick()
		out.Process(mix[off*2 : (off+n)*2])
	}
	return mix, nil
}

// RenderWAV is RenderBars encoded as a 32-bit float stereo WAV file.
func RenderWAV(ctx context.Context, bars int, opts ...Option) ([]byte, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	mix, err := RenderBars(ctx, bars, opts...)
	if err != nil {
		return nil, err
	}
	return EncodeWAVFloat32LE(mix, cfg.sampleRate, 2), nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
