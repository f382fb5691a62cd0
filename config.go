package stepseq

import (
	"fmt"
	"net/http"

	"github.com/cbegin/stepseq-go/internal/audio"
	"github.com/cbegin/stepseq-go/internal/config"
	"github.com/cbegin/stepseq-go/internal/samples"
	"github.com/cbegin/stepseq-go/internal/scheduler"
)

// ConfigOptions translates a loaded configuration into engine options.
func ConfigOptions(cfg config.Config) ([]Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := cfg.Engine
	backend, err := audio.ParseBackend(e.Backend)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithBackend(backend),
		WithSampleRate(e.SampleRate),
		WithFallbackTone(e.FallbackTone),
	}
	if e.Profile != "" {
		opts = append(opts, WithProfile(Profile(e.Profile)))
	}
	if e.BPM != 0 {
		opts = append(opts, WithBPM(e.BPM))
	}
	if e.Lookahead > 0 {
		opts = append(opts, WithLookahead(e.Lookahead))
	}
	if e.TickInterval > 0 {
		opts = append(opts, WithTickInterval(e.TickInterval))
	}
	if e.Polyphony != nil {
		opts = append(opts, WithPolyphony(*e.Polyphony))
	}
	if e.MissPolicy != "" {
		p, err := scheduler.ParseMissPolicy(e.MissPolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithMissPolicy(p))
	}

	s := cfg.Samples
	opts = append(opts,
		WithCachePolicy(CachePolicy{Limit: s.CacheLimit, Retain: s.CacheRetain}),
		WithLoadTimeouts(s.HighTimeout, s.NormalTimeout),
		WithTransport(fetcherFor(s), nil),
	)

	kit := make([]Track, 0, len(cfg.Kit))
	for _, kt := range cfg.Kit {
		t, err := trackFromConfig(kt)
		if err != nil {
			return nil, err
		}
		kit = append(kit, t)
	}
	opts = append(opts, WithKit(kit...))
	return opts, nil
}

// NewEngineFromConfig builds an engine from cfg; extra options are applied
// after the configuration and win over it.
func NewEngineFromConfig(cfg config.Config, extra ...Option) (*Engine, error) {
	opts, err := ConfigOptions(cfg)
	if err != nil {
		return nil, err
	}
	return NewEngine(append(opts, extra...)...)
}

func fetcherFor(s config.Samples) Fetcher {
	h := samples.HTTPFetcher{BaseURL: s.BaseURL}
	if len(s.Headers) > 0 {
		h.Header = make(http.Header, len(s.Headers))
		for k, v := range s.Headers {
			h.Header.Set(k, v)
		}
	}
	return samples.Router{HTTP: h, File: samples.FileFetcher{Root: s.Root}}
}

func trackFromConfig(kt config.Track) (Track, error) {
	name := kt.Name
	if name == "" {
		name = kt.ID
	}
	t := NewTrack(kt.ID, name)
	steps, err := kt.StepMask()
	if err != nil {
		return Track{}, fmt.Errorf("track %s: %w", kt.ID, err)
	}
	t.Steps = steps
	t.SelectedSampleID = kt.Sample
	t.Volume = kt.TrackVolume()
	t.Muted = kt.Muted
	for i, pct := range kt.Groove {
		t.Groove[i].OffsetPercent = pct
	}
	return t, nil
}
