package realtime

import (
	"fmt"
	"sync"
)

// State is the lifecycle position of a session. Exactly one state is
// current at a time and the transition table below is the only way to
// change it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "error"
	default:
		return "unknown"
	}
}

// StateChange is one entry on the session's state stream. Err carries
// the cause for transitions driven by a failure.
type StateChange struct {
	Previous State
	Current  State
	Err      error
}

// InvalidTransitionError reports a transition with no table entry.
// These are programming errors and are never silently ignored.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// validTransitions is the full lifecycle table. Disconnected is
// re-enterable: an explicit disconnect is allowed from any live state,
// and a dial failure with attempts remaining re-enters via
// reconnecting.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateErrored, StateDisconnected},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnecting, StateErrored, StateDisconnected},
	StateErrored:      {StateConnecting, StateDisconnected},
}

// stateMachine serializes transitions under one mutex so no two
// transitions can interleave.
type stateMachine struct {
	mu      sync.Mutex
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateDisconnected}
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) transition(to State, cause error) (StateChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range validTransitions[m.current] {
		if allowed == to {
			change := StateChange{Previous: m.current, Current: to, Err: cause}
			m.current = to
			return change, nil
		}
	}

	return StateChange{}, &InvalidTransitionError{From: m.current, To: to}
}
