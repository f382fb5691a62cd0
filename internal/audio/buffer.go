package audio

import (
	"math"
	"time"
)

// Buffer is decoded sample data: interleaved stereo float32 at SampleRate.
type Buffer struct {
	Data       []float32
	SampleRate int
}

// Frames returns the number of stereo frames.
func (b *Buffer) Frames() int {
	if b == nil {
		return 0
	}
	return len(b.Data) / 2
}

// Duration returns the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Blip renders a short decaying sine used as the cache-miss fallback sound.
func Blip(sampleRate int, freq float64, length time.Duration) *Buffer {
	frames := int(math.Round(length.Seconds() * float64(sampleRate)))
	data := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		t := float64(i) / float64(sampleRate)
		env := 1 - float64(i)/float64(frames)
		v := float32(0.5 * env * env * math.Sin(2*math.Pi*freq*t))
		data[i*2] = v
		data[i*2+1] = v
	}
	return &Buffer{Data: data, SampleRate: sampleRate}
}
