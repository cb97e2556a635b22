package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_ValidAndInvalid(t *testing.T) {
	s := NewStates(2)
	require.NoError(t, Transition(s, 0, StatePending, StateRunning))
	require.NoError(t, Transition(s, 0, StateRunning, StateCompleted))

	// Terminal states never restart.
	assert.Error(t, Transition(s, 0, StateCompleted, StateRunning))

	// Expected prior state must match.
	assert.Error(t, Transition(s, 1, StateRunning, StateFailed))
	assert.Equal(t, StatePending, s[1])

	// PENDING cannot skip RUNNING.
	assert.Error(t, Transition(s, 1, StatePending, StateCompleted))

	assert.Error(t, Transition(s, 5, StatePending, StateRunning))
	assert.Error(t, Transition(s, -1, StatePending, StateRunning))
}

func TestStates_Count(t *testing.T) {
	s := States{StateCompleted, StateFailed, StateCompleted, StatePending}
	assert.Equal(t, 2, s.Count(StateCompleted))
	assert.Equal(t, 1, s.Count(StateFailed))
	assert.True(t, IsTerminal(StateFailed))
	assert.False(t, IsTerminal(StateRunning))
}
