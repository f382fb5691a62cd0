package stepseq

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/stepseq-go/internal/groove"
	"github.com/cbegin/stepseq-go/internal/scheduler"
)

const (
	midiTicksPerQuarter = 960
	midiTicksPerStep    = midiTicksPerQuarter / groove.StepsPerBeat
	// GM percussion lives on channel 10.
	midiDrumChannel = 9
	midiNoteLength  = midiTicksPerStep / 2
)

// gmDrumNotes maps common track ids to General MIDI percussion keys.
var gmDrumNotes = map[string]uint8{
	"kick":    36,
	"snare":   38,
	"clap":    39,
	"rim":     37,
	"hat":     42,
	"hihat":   42,
	"chh":     42,
	"ohh":     46,
	"openhat": 46,
	"tom":     45,
	"lowtom":  41,
	"hitom":   50,
	"crash":   49,
	"ride":    51,
	"cowbell": 56,
	"perc":    60,
}

// DrumNote returns the GM percussion key for a track id. Unknown ids are
// spread over the hand percussion range.
func DrumNote(trackID string, index int) uint8 {
	if n, ok := gmDrumNotes[trackID]; ok {
		return n
	}
	return uint8(60 + index%20)
}

type midiHit struct {
	tick uint32
	on   bool
	key  uint8
	vel  uint8
}

// ExportMIDI writes bars of the pattern as a type 1 standard MIDI file: a
// tempo track followed by one track per instrument on the GM drum channel.
// Groove offsets are applied in ticks; muted tracks are written without
// notes.
func ExportMIDI(w io.Writer, tracks []Track, bpm int, bars int) error {
	if bars <= 0 {
		return errors.New("bars must be positive")
	}
	bpm = scheduler.ClampBPM(bpm)
	stepDur := groove.StepDuration(bpm)
	ticksPerSecond := float64(midiTicksPerStep) / stepDur
	length := uint32(bars * NumSteps * midiTicksPerStep)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(midiTicksPerQuarter)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(float64(bpm)))
	tempo.Close(length)
	if err := s.Add(tempo); err != nil {
		return fmt.Errorf("add tempo track: %w", err)
	}

	for i, t := range tracks {
		key := DrumNote(t.ID, i)
		vel := uint8(math.Round(t.Volume * 127))
		var hits []midiHit
		for bar := 0; bar < bars && !t.Muted; bar++ {
			for step, on := range t.Steps {
				if !on || vel == 0 {
					continue
				}
				pos := float64((bar*NumSteps+step)*midiTicksPerStep) +
					groove.OffsetSeconds(t.Groove[step], stepDur)*ticksPerSecond
				start := uint32(max(0, math.Round(pos)))
				hits = append(hits,
					midiHit{tick: start, on: true, key: key, vel: vel},
					midiHit{tick: start + midiNoteLength, key: key},
				)
			}
		}
		sort.SliceStable(hits, func(a, b int) bool {
			if hits[a].tick != hits[b].tick {
				return hits[a].tick < hits[b].tick
			}
			return !hits[a].on && hits[b].on
		})

		var tr smf.Track
		tr.Add(0, smf.MetaTrackSequenceName(t.Name))
		var last uint32
		for _, h := range hits {
			if h.on {
				tr.Add(h.tick-last, midi.NoteOn(midiDrumChannel, h.key, h.vel))
			} else {
				tr.Add(h.tick-last, midi.NoteOff(midiDrumChannel, h.key))
			}
			last = h.tick
		}
		end := uint32(0)
		if length > last {
			end = length - last
		}
		tr.Close(end)
		if err := s.Add(tr); err != nil {
			return fmt.Errorf("add track %s: %w", t.ID, err)
		}
	}

	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("write midi: %w", err)
	}
	return nil
}

// ExportMIDI writes the engine's current pattern at its current tempo.
func (e *Engine) ExportMIDI(w io.Writer, bars int) error {
	return ExportMIDI(w, e.Tracks(), e.BPM(), bars)
}
