package peak

import "sync"

// State is the realtime peak state of one user for one day.
// HasLast is false until the first reading of the day establishes a baseline.
type State struct {
	LastTotal    float64
	HasLast      bool
	PeakDeltaKWh float64
	PeakAtMs     int64
	HasPeak      bool
}

// Update is the outcome of feeding one total into the tracker.
type Update struct {
	Peak     float64
	Last     float64
	PeakAtMs int64
	HasPeak  bool
	NewPeak  bool
}

type stateKey struct {
	userID  string
	dateKey string
}

// Tracker follows the highest delta between consecutive totals per (user, day).
// Peak means the largest consumption between two samples, not the largest cumulative total.
type Tracker struct {
	mu      sync.Mutex
	states  map[stateKey]*State
	current map[string]string
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states:  make(map[stateKey]*State),
		current: make(map[string]string),
	}
}

// Update feeds the user's aggregated total observed at nowMs.
func (t *Tracker) Update(userID, dateKey string, currentTotal float64, nowMs int64) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.staleLocked(userID, dateKey) {
		return Update{Last: currentTotal}
	}
	state := t.stateLocked(userID, dateKey)
	if !state.HasLast {
		state.LastTotal = currentTotal
		state.HasLast = true
		return snapshot(state, false)
	}

	delta := currentTotal - state.LastTotal
	if delta < 0 {
		delta = 0
	}
	newPeak := false
	if delta > state.PeakDeltaKWh {
		state.PeakDeltaKWh = delta
		state.PeakAtMs = nowMs
		state.HasPeak = true
		newPeak = true
	}
	state.LastTotal = currentTotal
	return snapshot(state, newPeak)
}

// Seed restores a previously mirrored peak for a day without establishing a baseline.
// A seed lower than the tracked peak is ignored.
func (t *Tracker) Seed(userID, dateKey string, peakKWh float64, atMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.staleLocked(userID, dateKey) {
		return
	}
	state := t.stateLocked(userID, dateKey)
	if peakKWh > state.PeakDeltaKWh {
		state.PeakDeltaKWh = peakKWh
		state.PeakAtMs = atMs
		state.HasPeak = true
	}
}

// Current returns a copy of the user's state for the day.
func (t *Tracker) Current(userID, dateKey string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[stateKey{userID: userID, dateKey: dateKey}]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// stateLocked returns the state for the key, creating it on first use.
// Moving a user to a newer day drops that user's previous day.
func (t *Tracker) stateLocked(userID, dateKey string) *State {
	key := stateKey{userID: userID, dateKey: dateKey}
	if state, ok := t.states[key]; ok {
		return state
	}
	state := &State{}
	t.states[key] = state
	if prev, ok := t.current[userID]; ok {
		delete(t.states, stateKey{userID: userID, dateKey: prev})
	}
	t.current[userID] = dateKey
	return state
}

// staleLocked reports a day older than the user's current one. Late samples for
// such a day are ignored and leave no state behind.
func (t *Tracker) staleLocked(userID, dateKey string) bool {
	prev, ok := t.current[userID]
	return ok && prev > dateKey
}

func snapshot(state *State, newPeak bool) Update {
	return Update{
		Peak:     state.PeakDeltaKWh,
		Last:     state.LastTotal,
		PeakAtMs: state.PeakAtMs,
		HasPeak:  state.HasPeak,
		NewPeak:  newPeak,
	}
}
