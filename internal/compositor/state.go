package compositor

import (
	"fmt"
	"sync"
)

// State is the render lifecycle stage shown to users.
type State string

const (
	StateIdle              State = "idle"
	StateSynthesizingAudio State = "synthesizing_audio"
	StateRendering         State = "rendering"
	StateFinalizing        State = "finalizing"
	StateDone              State = "done"
	StateError             State = "error"
)

var transitions = map[State][]State{
	StateIdle:              {StateSynthesizingAudio},
	StateSynthesizingAudio: {StateRendering},
	StateRendering:         {StateFinalizing},
	StateFinalizing:        {StateDone},
}

// Tracker enforces the lifecycle order and reports every change.
// Any state may move to error; done and error only go back to idle.
type Tracker struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewTracker starts idle. onChange may be nil.
func NewTracker(onChange func(State)) *Tracker {
	return &Tracker{state: StateIdle, onChange: onChange}
}

// OnChange replaces the listener; later transitions go to fn only.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// State returns the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set moves to s if the lifecycle allows it
func (t *Tracker) Set(s State) error {
	t.mu.Lock()
	if s != StateError && !allowed(t.state, s) {
		from := t.state
		t.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", from, s)
	}
	t.state = s
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(s)
	}
	return nil
}

// Fail moves to error
func (t *Tracker) Fail() {
	_ = t.Set(StateError)
}

// Reset returns to idle for a new run
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = StateIdle
	cb := t.onChange
	t.mu.Unlock()
	if cb != nil {
		cb(StateIdle)
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
