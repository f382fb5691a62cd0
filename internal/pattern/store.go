// Package pattern holds the per-track step patterns of a session.
package pattern

import (
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/cbegin/stepseq-go/internal/groove"
)

const NumSteps = 16

// Track is one instrument lane of the pattern.
type Track struct {
	ID               string
	Name             string
	Steps            [NumSteps]bool
	Volume           float64
	SelectedSampleID string
	Muted            bool
	Groove           [NumSteps]groove.Offset
}

// Trigger is what the scheduler needs to fire one track on one step.
type Trigger struct {
	TrackID  string
	SampleID string
	Volume   float64
	Groove   groove.Offset
}

// NewTrack returns an empty track at full volume with a zeroed groove table.
func NewTrack(id, name string) Track {
	t := Track{ID: id, Name: name, Volume: 1}
	for i := range t.Groove {
		t.Groove[i].StepIndex = i
	}
	return t
}

// Store owns the tracks. Mutations never touch audio state; the scheduler
// picks them up on its next read.
type Store struct {
	mu     sync.RWMutex
	tracks []*Track
	index  map[string]*Track
	bpm    int
	log    *slog.Logger
}

// NewStore creates an empty store at the given tempo. A nil logger discards.
func NewStore(bpm int, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		index: make(map[string]*Track),
		bpm:   bpm,
		log:   log,
	}
}

// AddTrack inserts t, or replaces the track with the same ID in place. A
// non-finite volume becomes 1 and a non-finite groove percent becomes 0.
func (s *Store) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !finite(t.Volume) {
		s.log.Warn("non-finite volume, using 1", "track", t.ID, "volume", t.Volume)
		t.Volume = 1
	}
	t.Volume = clampVolume(t.Volume)
	for i := range t.Groove {
		t.Groove[i].StepIndex = i
		if !finite(t.Groove[i].OffsetPercent) {
			s.log.Warn("non-finite groove, using 0", "track", t.ID, "step", i)
			t.Groove[i].OffsetPercent = 0
		}
		t.Groove[i].OffsetPercent = groove.ClampPercent(t.Groove[i].OffsetPercent)
		t.Groove[i] = groove.Retime(t.Groove[i], s.bpm)
	}
	if existing, ok := s.index[t.ID]; ok {
		*existing = t
		return
	}
	tr := t
	s.tracks = append(s.tracks, &tr)
	s.index[t.ID] = &tr
}

func (s *Store) SetStep(trackID string, step int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.lookup(trackID, "set step")
	if t == nil || !s.validStep(step, trackID) {
		return
	}
	t.Steps[step] = active
}

// ToggleStep flips a step and returns its new state.
func (s *Store) ToggleStep(trackID string, step int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.lookup(trackID, "toggle step")
	if t == nil || !s.validStep(step, trackID) {
		return false
	}
	t.Steps[step] = !t.Steps[step]
	return t.Steps[step]
}

// SetVolume stores volume clamped to [0,1]. NaN and infinities are ignored.
func (s *Store) SetVolume(trackID string, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.lookup(trackID, "set volume")
	if t == nil {
		return
	}
	if !finite(volume) {
		s.log.Warn("non-finite volume ignored", "track", trackID, "volume", volume)
		return
	}
	v := clampVolume(volume)
	if v != volume {
		s.log.Debug("volume clamped", "track", trackID, "requested", volume, "volume", v)
	}
	t.Volume = v
}

func (s *Store) SetSelectedSample(trackID, sampleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.lookup(trackID, "set sample"); t != nil {
		t.SelectedSampleID = sampleID
	}
}

func (s *Store) SetMuted(trackID string, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.lookup(trackID, "set muted"); t != nil {
		t.Muted = muted
	}
}

// SetGrooveOffset stores percent clamped to [-75,75] and recomputes the
// step's OffsetMs at the current tempo. NaN and infinities are ignored.
func (s *Store) SetGrooveOffset(trackID string, step int, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.lookup(trackID, "set groove")
	if t == nil || !s.validStep(step, trackID) {
		return
	}
	if !finite(percent) {
		s.log.Warn("non-finite groove ignored", "track", trackID, "step", step, "percent", percent)
		return
	}
	g := groove.Offset{StepIndex: step, OffsetPercent: groove.ClampPercent(percent)}
	t.Groove[step] = groove.Retime(g, s.bpm)
}

// SetTempo recomputes every cached OffsetMs for bpm.
func (s *Store) SetTempo(bpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bpm == s.bpm {
		return
	}
	s.bpm = bpm
	for _, t := range s.tracks {
		for i := range t.Groove {
			t.Groove[i] = groove.Retime(t.Groove[i], bpm)
		}
	}
}

// ClearTrack turns every step off and resets the groove table.
func (s *Store) ClearTrack(trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.lookup(trackID, "clear")
	if t == nil {
		return
	}
	t.Steps = [NumSteps]bool{}
	for i := range t.Groove {
		t.Groove[i] = groove.Offset{StepIndex: i}
	}
}

// ActiveTracksForStep returns the unmuted tracks with step enabled, in track
// order.
func (s *Store) ActiveTracksForStep(step int) []string {
	if step < 0 || step >= NumSteps {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, t := range s.tracks {
		if t.Steps[step] && !t.Muted {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Triggers returns a snapshot of every unmuted track that fires on step.
func (s *Store) Triggers(step int) []Trigger {
	if step < 0 || step >= NumSteps {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Trigger
	for _, t := range s.tracks {
		if !t.Steps[step] || t.Muted {
			continue
		}
		out = append(out, Trigger{
			TrackID:  t.ID,
			SampleID: t.SelectedSampleID,
			Volume:   t.Volume,
			Groove:   t.Groove[step],
		})
	}
	return out
}

// Track returns a copy of the track with id.
func (s *Store) Track(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.index[id]
	if !ok {
		return Track{}, false
	}
	return *t, true
}

// Tracks returns copies of all tracks in insertion order.
func (s *Store) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = *t
	}
	return out
}

// SampleIDs returns the distinct selected samples, in track order.
func (s *Store) SampleIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.tracks))
	var ids []string
	for _, t := range s.tracks {
		if t.SelectedSampleID == "" {
			continue
		}
		if _, ok := seen[t.SelectedSampleID]; ok {
			continue
		}
		seen[t.SelectedSampleID] = struct{}{}
		ids = append(ids, t.SelectedSampleID)
	}
	return ids
}

// lookup must be called with mu held.
func (s *Store) lookup(trackID, op string) *Track {
	t, ok := s.index[trackID]
	if !ok {
		s.log.Warn("unknown track", "op", op, "track", trackID)
		return nil
	}
	return t
}

func (s *Store) validStep(step int, trackID string) bool {
	if step < 0 || step >= NumSteps {
		s.log.Warn("step out of range", "track", trackID, "step", step)
		return false
	}
	return true
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
