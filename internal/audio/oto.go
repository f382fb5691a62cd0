package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// OtoDevice plays a Mixer through an oto context. It starts suspended; Resume
// starts the player.
type OtoDevice struct {
	mu        sync.Mutex
	ctx       *oto.Context
	player    *oto.Player
	suspended bool
}

func NewOtoDevice(m *Mixer) (*OtoDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   m.SampleRate(),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   deviceBuffer,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoDevice{
		ctx:       ctx,
		player:    ctx.NewPlayer(NewStreamReader(m)),
		suspended: true,
	}, nil
}

func (d *OtoDevice) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended || !d.player.IsPlaying()
}

func (d *OtoDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("cannot resume oto context: %w", err)
	}
	d.player.Play()
	d.suspended = false
	return nil
}

// Suspend pauses the hardware clock without discarding scheduled voices.
func (d *OtoDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	d.suspended = true
	return nil
}

func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
