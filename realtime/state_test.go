package realtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineInitial(t *testing.T) {
	m := newStateMachine()
	assert.Equal(t, StateDisconnected, m.Current())
}

func TestStateMachineHappyPath(t *testing.T) {
	m := newStateMachine()

	for _, to := range []State{StateConnecting, StateConnected, StateReconnecting, StateConnecting, StateConnected, StateDisconnected} {
		change, err := m.transition(to, nil)
		require.NoError(t, err)
		assert.Equal(t, to, change.Current)
		assert.Equal(t, to, m.Current())
	}
}

func TestStateMachineRejectsUnlistedTransitions(t *testing.T) {
	allStates := []State{StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateErrored}

	allowed := func(from, to State) bool {
		for _, s := range validTransitions[from] {
			if s == to {
				return true
			}
		}
		return false
	}

	for _, from := range allStates {
		for _, to := range allStates {
			m := &stateMachine{current: from}
			_, err := m.transition(to, nil)

			if allowed(from, to) {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, m.Current())
			} else {
				var invalid *InvalidTransitionError
				require.ErrorAs(t, err, &invalid, "%s -> %s", from, to)
				assert.Equal(t, from, invalid.From)
				assert.Equal(t, to, invalid.To)
				assert.Equal(t, from, m.Current(), "rejected transition must not change state")
			}
		}
	}
}

func TestStateMachineConnectWhileConnectedRejected(t *testing.T) {
	m := &stateMachine{current: StateConnected}
	_, err := m.transition(StateConnecting, nil)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateConnected, m.Current())
}

func TestStateChangeCarriesCause(t *testing.T) {
	m := &stateMachine{current: StateConnected}
	cause := errors.New("read: connection reset")

	change, err := m.transition(StateReconnecting, cause)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, change.Previous)
	assert.Equal(t, StateReconnecting, change.Current)
	assert.Equal(t, cause, change.Err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "error", StateErrored.String())
	assert.Equal(t, "unknown", State(99).String())
}
