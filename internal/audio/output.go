// Package audio is the platform side of playback: a sample-accurate voice
// mixer that doubles as the audio clock, and the devices that pull it.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Backend selects the device behind an Output.
type Backend string

const (
	BackendEbiten   Backend = "ebiten"
	BackendOto      Backend = "oto"
	BackendHeadless Backend = "headless"
)

// ParseBackend accepts the backend names used in flags and config files.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "":
		return BackendEbiten, nil
	case BackendEbiten, BackendOto, BackendHeadless:
		return b, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected ebiten|oto|headless)", name)
	}
}

// Device pulls frames from a Mixer on the hardware's schedule.
type Device interface {
	Suspended() bool
	Resume() error
	Close() error
}

// HeadlessDevice has no hardware. The owner advances the clock by calling
// Mixer.Process directly.
type HeadlessDevice struct{}

func (HeadlessDevice) Suspended() bool { return false }
func (HeadlessDevice) Resume() error   { return nil }
func (HeadlessDevice) Close() error    { return nil }

// Output is a Mixer bound to a Device.
type Output struct {
	*Mixer
	dev Device
}

// NewOutput opens backend at sampleRate.
func NewOutput(backend Backend, sampleRate int) (*Output, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	m := NewMixer(sampleRate)
	var (
		dev Device
		err error
	)
	switch backend {
	case BackendEbiten, "":
		dev, err = NewEbitenDevice(m)
	case BackendOto:
		dev, err = NewOtoDevice(m)
	case BackendHeadless:
		dev = HeadlessDevice{}
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	return &Output{Mixer: m, dev: dev}, nil
}

// NewHeadlessOutput is NewOutput(BackendHeadless, sampleRate) without the
// error path.
func NewHeadlessOutput(sampleRate int) *Output {
	return &Output{Mixer: NewMixer(sampleRate), dev: HeadlessDevice{}}
}

func (o *Output) Suspended() bool { return o.dev.Suspended() }
func (o *Output) Resume() error   { return o.dev.Resume() }
func (o *Output) Close() error    { return o.dev.Close() }

// Device exposes the underlying device.
func (o *Output) Device() Device { return o.dev }
