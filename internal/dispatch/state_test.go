package dispatch

import (
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateSubmitted, "submitted"},
		{StateValidating, "validating"},
		{StateRejected, "rejected"},
		{StateDispatching, "dispatching"},
		{StateAttempting, "attempting"},
		{StateRetrying, "retrying"},
		{StateSucceeded, "succeeded"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateRejected:  true,
		StateSucceeded: true,
		StateFailed:    true,
	}
	for s := StateSubmitted; s <= StateFailed; s++ {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateSubmitted, StateValidating, true},
		{StateValidating, StateRejected, true},
		{StateValidating, StateDispatching, true},
		{StateDispatching, StateSucceeded, true},
		{StateAttempting, StateRetrying, true},
		{StateRetrying, StateAttempting, true},
		{StateRetrying, StateFailed, true},

		{StateSubmitted, StateAttempting, false},
		{StateRejected, StateDispatching, false},
		{StateSucceeded, StateAttempting, false},
		{StateFailed, StateRetrying, false},
		{StateRetrying, StateSucceeded, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateMachine(t *testing.T) {
	sm := newStateMachine()
	if sm.Current() != StateSubmitted {
		t.Fatalf("initial state = %s, want submitted", sm.Current())
	}

	path := []State{StateValidating, StateDispatching, StateAttempting, StateRetrying, StateAttempting, StateSucceeded}
	for _, s := range path {
		if !sm.Transition(s) {
			t.Fatalf("transition %s -> %s rejected", sm.Current(), s)
		}
	}

	if sm.Transition(StateFailed) {
		t.Error("transition out of a terminal state accepted")
	}
	if sm.Current() != StateSucceeded {
		t.Errorf("current = %s, want succeeded", sm.Current())
	}
	if len(sm.history) != len(path)+1 {
		t.Errorf("history has %d states, want %d", len(sm.history), len(path)+1)
	}
}
