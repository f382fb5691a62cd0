package scheduler

import "math"

const (
	// dupWindow is how long a scheduled key suppresses an identical one.
	dupWindow = 0.050
	// keyTTL is how long a key is kept at all.
	keyTTL = 1.0
)

type eventKey struct {
	trackID string
	step    int
	ms      int64
}

func keyFor(trackID string, step int, at float64) eventKey {
	return eventKey{trackID: trackID, step: step, ms: int64(math.Round(at * 1000))}
}

// recentKeys remembers when each (track, step, time) hit was handed to the
// player, measured on the audio clock.
type recentKeys struct {
	seen map[eventKey]float64
}

func newRecentKeys() *recentKeys {
	return &recentKeys{seen: make(map[eventKey]float64)}
}

// admit records k at now and reports whether it may be scheduled. A key
// recorded less than dupWindow ago is refused.
func (r *recentKeys) admit(k eventKey, now float64) bool {
	if at, ok := r.seen[k]; ok && now-at < dupWindow {
		return false
	}
	r.seen[k] = now
	return true
}

func (r *recentKeys) purge(now float64) {
	for k, at := range r.seen {
		if now-at > keyTTL {
			delete(r.seen, k)
		}
	}
}

func (r *recentKeys) reset() { clear(r.seen) }

func (r *recentKeys) len() int { return len(r.seen) }
