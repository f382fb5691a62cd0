package pattern

import (
	"math"
	"testing"
)

func newTestStore() *Store {
	s := NewStore(120, nil)
	s.AddTrack(NewTrack("kick", "Kick"))
	s.AddTrack(NewTrack("snare", "Snare"))
	s.AddTrack(NewTrack("hat", "Hi-Hat"))
	return s
}

func TestActiveTracksForStepSkipsMuted(t *testing.T) {
	s := newTestStore()
	s.SetStep("kick", 0, true)
	s.SetStep("snare", 0, true)
	s.SetStep("hat", 0, true)
	s.SetMuted("snare", true)

	got := s.ActiveTracksForStep(0)
	if len(got) != 2 || got[0] != "kick" || got[1] != "hat" {
		t.Fatalf("active tracks = %v, want [kick hat]", got)
	}
	if got := s.ActiveTracksForStep(1); len(got) != 0 {
		t.Fatalf("step 1 should be empty, got %v", got)
	}
	if got := s.ActiveTracksForStep(16); got != nil {
		t.Fatalf("out of range step should return nil, got %v", got)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	s := newTestStore()
	s.SetVolume("kick", 150)
	tr, _ := s.Track("kick")
	if tr.Volume != 1.0 {
		t.Fatalf("volume = %v, want 1.0", tr.Volume)
	}
	s.SetVolume("kick", -3)
	tr, _ = s.Track("kick")
	if tr.Volume != 0 {
		t.Fatalf("volume = %v, want 0", tr.Volume)
	}
	s.SetVolume("kick", 0.4)
	tr, _ = s.Track("kick")
	if tr.Volume != 0.4 {
		t.Fatalf("volume = %v, want 0.4", tr.Volume)
	}
}

func TestUnknownTrackIsNoOp(t *testing.T) {
	s := newTestStore()
	s.SetStep("cowbell", 3, true)
	s.SetVolume("cowbell", 0.5)
	s.SetSelectedSample("cowbell", "cowbell.wav")
	s.SetGrooveOffset("cowbell", 3, 20)
	if s.ToggleStep("cowbell", 3) {
		t.Fatalf("toggle on unknown track should report false")
	}
	if _, ok := s.Track("cowbell"); ok {
		t.Fatalf("unknown track should not be created")
	}
	if len(s.Tracks()) != 3 {
		t.Fatalf("track count changed: %d", len(s.Tracks()))
	}
}

func TestOutOfRangeStepIsNoOp(t *testing.T) {
	s := newTestStore()
	s.SetStep("kick", -1, true)
	s.SetStep("kick", NumSteps, true)
	s.SetGrooveOffset("kick", 99, 10)
	tr, _ := s.Track("kick")
	for i, on := range tr.Steps {
		if on {
			t.Fatalf("step %d unexpectedly enabled", i)
		}
	}
}

func TestGrooveOffsetClampsAndRecomputes(t *testing.T) {
	s := newTestStore()
	s.SetGrooveOffset("snare", 4, -200)
	tr, _ := s.Track("snare")
	g := tr.Groove[4]
	if g.OffsetPercent != -75 || g.StepIndex != 4 {
		t.Fatalf("groove = %+v, want percent -75 at step 4", g)
	}
	// 120 bpm: 0.125 s steps, -75% of 0.09375 s
	if math.Abs(g.OffsetMs-(-70.3125)) > 1e-9 {
		t.Fatalf("OffsetMs = %v, want -70.3125", g.OffsetMs)
	}

	s.SetTempo(100)
	tr, _ = s.Track("snare")
	if math.Abs(tr.Groove[4].OffsetMs-(-84.375)) > 1e-9 {
		t.Fatalf("OffsetMs after tempo change = %v, want -84.375", tr.Groove[4].OffsetMs)
	}
}

func TestTriggersSnapshot(t *testing.T) {
	s := newTestStore()
	s.SetStep("kick", 4, true)
	s.SetSelectedSample("kick", "kits/808/kick.wav")
	s.SetVolume("kick", 0.8)
	s.SetGrooveOffset("kick", 4, -50)

	trig := s.Triggers(4)
	if len(trig) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(trig))
	}
	got := trig[0]
	if got.TrackID != "kick" || got.SampleID != "kits/808/kick.wav" || got.Volume != 0.8 || got.Groove.OffsetPercent != -50 {
		t.Fatalf("unexpected trigger %+v", got)
	}

	// The snapshot must not alias store state.
	s.SetVolume("kick", 0.1)
	if trig[0].Volume != 0.8 {
		t.Fatalf("trigger aliased store state")
	}
}

func TestToggleAndClear(t *testing.T) {
	s := newTestStore()
	if !s.ToggleStep("hat", 2) {
		t.Fatalf("first toggle should enable")
	}
	if s.ToggleStep("hat", 2) {
		t.Fatalf("second toggle should disable")
	}
	s.SetStep("hat", 7, true)
	s.SetGrooveOffset("hat", 7, 30)
	s.ClearTrack("hat")
	tr, _ := s.Track("hat")
	if tr.Steps[7] || tr.Groove[7].OffsetPercent != 0 || tr.Groove[7].StepIndex != 7 {
		t.Fatalf("clear left state behind: %+v", tr)
	}
}

func TestSampleIDsDistinct(t *testing.T) {
	s := newTestStore()
	s.SetSelectedSample("kick", "a.wav")
	s.SetSelectedSample("snare", "b.wav")
	s.SetSelectedSample("hat", "a.wav")
	ids := s.SampleIDs()
	if len(ids) != 2 || ids[0] != "a.wav" || ids[1] != "b.wav" {
		t.Fatalf("sample ids = %v", ids)
	}
}

func TestAddTrackReplacesInPlace(t *testing.T) {
	s := newTestStore()
	tr := NewTrack("snare", "Clap")
	tr.Volume = 3
	s.AddTrack(tr)
	tracks := s.Tracks()
	if len(tracks) != 3 || tracks[1].Name != "Clap" || tracks[1].Volume != 1 {
		t.Fatalf("replace failed: %+v", tracks)
	}
}

func TestNonFiniteValuesAreIgnored(t *testing.T) {
	s := newTestStore()
	s.SetVolume("kick", 0.4)
	s.SetGrooveOffset("kick", 2, 20)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		s.SetVolume("kick", v)
		s.SetGrooveOffset("kick", 2, v)
	}
	tr, _ := s.Track("kick")
	if tr.Volume != 0.4 {
		t.Fatalf("volume = %v, want 0.4", tr.Volume)
	}
	if g := tr.Groove[2]; g.OffsetPercent != 20 || math.IsNaN(g.OffsetMs) {
		t.Fatalf("groove = %+v, want 20%%", g)
	}

	bad := NewTrack("tom", "Tom")
	bad.Volume = math.NaN()
	bad.Groove[5].OffsetPercent = math.NaN()
	s.AddTrack(bad)
	tr, _ = s.Track("tom")
	if tr.Volume != 1 || tr.Groove[5].OffsetPercent != 0 || tr.Groove[5].OffsetMs != 0 {
		t.Fatalf("added track = volume %v groove %+v", tr.Volume, tr.Groove[5])
	}
}
