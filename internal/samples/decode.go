package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"

	"github.com/cbegin/stepseq-go/internal/audio"
)

// Decoder turns encoded bytes into playable sample data.
type Decoder interface {
	Decode(data []byte) (*audio.Buffer, error)
}

// DecodeFunc adapts a function to Decoder.
type DecodeFunc func(data []byte) (*audio.Buffer, error)

func (f DecodeFunc) Decode(data []byte) (*audio.Buffer, error) { return f(data) }

// Format is a container format recognized by its leading bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
	FormatVorbis
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	case FormatVorbis:
		return "ogg"
	default:
		return "unknown"
	}
}

// Sniff identifies the container from magic bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return FormatVorbis
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// CodecDecoder decodes WAV, MP3 and Ogg Vorbis with ebiten's decoders,
// resampling to SampleRate.
type CodecDecoder struct {
	SampleRate int
}

func (d CodecDecoder) Decode(data []byte) (*audio.Buffer, error) {
	var (
		stream io.Reader
		err    error
	)
	src := bytes.NewReader(data)
	switch f := Sniff(data); f {
	case FormatWAV:
		stream, err = wav.DecodeWithSampleRate(d.SampleRate, src)
	case FormatMP3:
		stream, err = mp3.DecodeWithSampleRate(d.SampleRate, src)
	case FormatVorbis:
		stream, err = vorbis.DecodeWithSampleRate(d.SampleRate, src)
	default:
		return nil, errors.New("unrecognized audio format")
	}
	if err != nil {
		return nil, err
	}
	pcm, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read decoded stream: %w", err)
	}
	buf := PCM16ToBuffer(pcm, d.SampleRate)
	if buf.Frames() == 0 {
		return nil, errors.New("decoded stream has no frames")
	}
	return buf, nil
}

// PCM16ToBuffer converts 16-bit little-endian interleaved stereo to a Buffer.
// A trailing partial frame is dropped.
func PCM16ToBuffer(pcm []byte, sampleRate int) *audio.Buffer {
	n := len(pcm) / 4 * 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / math.MaxInt16
	}
	return &audio.Buffer{Data: out, SampleRate: sampleRate}
}
