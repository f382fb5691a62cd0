// Package groove converts per-step timing offsets into absolute time.
//
// An offset is expressed as a percentage of one step's duration. Negative
// values pull the hit early, positive values push it late. The realized offset
// is bounded twice: by 75% of the step and by an absolute 150 ms ceiling, so
// the effect shrinks at fast tempos and never drifts audibly at slow ones.
package groove

import "math"

const (
	MinPercent = -75.0
	MaxPercent = 75.0

	// StepFraction is the share of a step reachable at ±100%.
	StepFraction = 0.75
	// MaxOffsetSeconds bounds the realized offset regardless of tempo.
	MaxOffsetSeconds = 0.15

	StepsPerBeat = 4
)

// Offset is the timing record for one step of a track.
type Offset struct {
	StepIndex     int
	OffsetPercent float64
	// OffsetMs caches the realized offset for the tempo it was last computed at.
	OffsetMs float64
}

// StepDuration returns the length of one sixteenth note in seconds.
func StepDuration(bpm int) float64 {
	if bpm <= 0 {
		return 0
	}
	return 60.0 / float64(bpm) / StepsPerBeat
}

// OffsetSeconds maps the offset's percentage to seconds for the given step
// duration.
func OffsetSeconds(g Offset, stepDuration float64) float64 {
	return PercentToSeconds(g.OffsetPercent, stepDuration)
}

// PercentToSeconds is OffsetSeconds without the record.
func PercentToSeconds(percent, stepDuration float64) float64 {
	if percent == 0 {
		return 0
	}
	raw := percent / 100 * (stepDuration * StepFraction)
	return clamp(raw, -MaxOffsetSeconds, MaxOffsetSeconds)
}

// OffsetMs returns the realized offset in milliseconds at bpm.
func OffsetMs(percent float64, bpm int) float64 {
	return PercentToSeconds(percent, StepDuration(bpm)) * 1000
}

// ClampPercent limits percent to [MinPercent, MaxPercent]. NaN becomes 0.
func ClampPercent(percent float64) float64 {
	return clamp(percent, MinPercent, MaxPercent)
}

// Retime returns g with OffsetMs recomputed for bpm.
func Retime(g Offset, bpm int) Offset {
	g.OffsetMs = OffsetMs(g.OffsetPercent, bpm)
	return g
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
