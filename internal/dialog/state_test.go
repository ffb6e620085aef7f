package dialog

import (
	"errors"
	"testing"
)

func TestStateMachineStartsIdle(t *testing.T) {
	sm := NewStateMachine()
	if got := sm.State(); got != StateIdle {
		t.Fatalf("initial state = %v, want %v", got, StateIdle)
	}
}

func TestStateMachineValidTransitions(t *testing.T) {
	sm := NewStateMachine()
	steps := []State{StateListening, StateProcessing, StateSpeaking, StateListening}
	for _, to := range steps {
		if err := sm.TransitionTo(to); err != nil {
			t.Fatalf("TransitionTo(%v) error: %v", to, err)
		}
		if got := sm.State(); got != to {
			t.Fatalf("State() = %v, want %v", got, to)
		}
	}
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := NewStateMachine()
	err := sm.TransitionTo(StateProcessing)
	if err == nil {
		t.Fatal("TransitionTo(Processing) from Idle succeeded, want error")
	}
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("error type = %T, want *InvalidTransitionError", err)
	}
	if inv.From != StateIdle || inv.To != StateProcessing {
		t.Fatalf("error fields = %v -> %v, want %v -> %v", inv.From, inv.To, StateIdle, StateProcessing)
	}
	if got := sm.State(); got != StateIdle {
		t.Fatalf("state after rejected transition = %v, want %v", got, StateIdle)
	}
}

func TestStateMachineInterruptionPath(t *testing.T) {
	sm := NewStateMachine()
	for _, to := range []State{StateListening, StateProcessing, StateSpeaking, StateBuffering, StateProcessing} {
		if err := sm.TransitionTo(to); err != nil {
			t.Fatalf("TransitionTo(%v) error: %v", to, err)
		}
	}
}

func TestStateMachineHistoryBounded(t *testing.T) {
	sm := NewStateMachine()
	// Listening <-> Processing ... via Speaking is the cheapest legal cycle.
	if err := sm.TransitionTo(StateListening); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 60; i++ {
		for _, to := range []State{StateProcessing, StateSpeaking, StateListening} {
			if err := sm.TransitionTo(to); err != nil {
				t.Fatalf("cycle %d TransitionTo(%v): %v", i, to, err)
			}
		}
	}
	h := sm.History()
	if len(h) > 100 {
		t.Fatalf("history length = %d, want <= 100", len(h))
	}
	// Most recent entry must be the last transition performed.
	last := h[len(h)-1]
	if last.From != StateSpeaking || last.To != StateListening {
		t.Fatalf("last transition = %v -> %v, want %v -> %v", last.From, last.To, StateSpeaking, StateListening)
	}
}

func TestStateMachineForceReset(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.TransitionTo(StateListening); err != nil {
		t.Fatal(err)
	}
	if err := sm.TransitionTo(StateProcessing); err != nil {
		t.Fatal(err)
	}
	sm.ForceReset()
	if got := sm.State(); got != StateIdle {
		t.Fatalf("state after ForceReset = %v, want %v", got, StateIdle)
	}
	if h := sm.History(); len(h) != 0 {
		t.Fatalf("history after ForceReset = %d entries, want 0", len(h))
	}
}

func TestStateMachineCanTransitionTo(t *testing.T) {
	sm := NewStateMachine()
	if !sm.CanTransitionTo(StateListening) {
		t.Fatal("CanTransitionTo(Listening) from Idle = false, want true")
	}
	if sm.CanTransitionTo(StateSpeaking) {
		t.Fatal("CanTransitionTo(Speaking) from Idle = true, want false")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:       "idle",
		StateListening:  "listening",
		StateProcessing: "processing",
		StateSpeaking:   "speaking",
		StateBuffering:  "buffering",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
