package dispatch

import "slices"

// State is the lifecycle stage of a request inside the dispatcher.
type State int

const (
	StateSubmitted State = iota
	StateValidating
	StateRejected
	StateDispatching
	StateAttempting
	StateRetrying
	StateSucceeded
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateValidating:
		return "validating"
	case StateRejected:
		return "rejected"
	case StateDispatching:
		return "dispatching"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further attempts follow the state.
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateSucceeded || s == StateFailed
}

var transitions = map[State][]State{
	StateSubmitted:   {StateValidating},
	StateValidating:  {StateRejected, StateDispatching},
	StateDispatching: {StateAttempting, StateSucceeded, StateFailed},
	StateAttempting:  {StateSucceeded, StateRetrying, StateFailed},
	StateRetrying:    {StateAttempting, StateFailed},
}

// CanTransition reports whether a request may move from one state to another.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// stateMachine tracks one request. Callers serialize access.
type stateMachine struct {
	current State
	history []State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateSubmitted, history: []State{StateSubmitted}}
}

// Transition moves to the given state if the move is valid.
func (sm *stateMachine) Transition(to State) bool {
	if !CanTransition(sm.current, to) {
		return false
	}
	sm.current = to
	sm.history = append(sm.history, to)
	return true
}

// Current returns the current state.
func (sm *stateMachine) Current() State {
	return sm.current
}
