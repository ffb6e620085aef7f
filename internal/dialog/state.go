package dialog

import (
	"fmt"
	"sync"
	"time"
)

// State is the conversation's top-level mode.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateBuffering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateBuffering:
		return "buffering"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:       {StateListening},
	StateListening:  {StateProcessing, StateIdle},
	StateProcessing: {StateSpeaking, StateListening},
	StateSpeaking:   {StateListening, StateBuffering, StateIdle},
	StateBuffering:  {StateProcessing, StateListening},
}

// InvalidTransitionError names the rejected (from, to) pair so caller bugs
// are diagnosable rather than silently swallowed.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid conversation transition: %s -> %s", e.From, e.To)
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

const (
	historyCap  = 100
	historyTrim = 50
)

// StateMachine is the single authoritative conversation state for one live
// session. Transitions are validated against the allowed-transition table;
// a rejected transition leaves the state untouched.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	enteredAt time.Time
	history   []Transition
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle, enteredAt: time.Now()}
}

func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateDuration is how long the machine has been in the current state.
func (m *StateMachine) StateDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.enteredAt)
}

func (m *StateMachine) CanTransitionTo(target State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return allowed(m.state, target)
}

// TransitionTo moves to target if the transition table allows it, recording
// the change in the bounded history. On rejection the state is unchanged.
func (m *StateMachine) TransitionTo(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowed(m.state, target) {
		return &InvalidTransitionError{From: m.state, To: target}
	}

	now := time.Now()
	m.history = append(m.history, Transition{From: m.state, To: target, At: now})
	if len(m.history) > historyCap {
		m.history = append(m.history[:0:0], m.history[len(m.history)-historyTrim:]...)
	}
	m.state = target
	m.enteredAt = now
	return nil
}

// ForceReset returns unconditionally to Idle, bypassing validation. Used
// for error recovery and session teardown; the history is cleared too.
func (m *StateMachine) ForceReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.enteredAt = time.Now()
	m.history = nil
}

// History returns a copy of the recorded transitions, oldest first.
func (m *StateMachine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

func allowed(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
