package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{62, 10 * time.Second},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, ReconnectDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestReconnectDelayMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := ReconnectDelay(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}
}

func TestTransitions(t *testing.T) {
	t.Run("allows the happy caller path", func(t *testing.T) {
		assert.True(t, StateIdle.CanTransitionTo(StateConnecting))
		assert.True(t, StateConnecting.CanTransitionTo(StateRinging))
		assert.True(t, StateRinging.CanTransitionTo(StateConnected))
	})

	t.Run("only manual retry leaves failure states", func(t *testing.T) {
		for _, s := range []ConnectionState{StateFailed, StateNoAnswer} {
			assert.True(t, s.IsRetryable())
			assert.Equal(t, []ConnectionState{StateConnecting}, validTransitions[s])
		}
	})

	t.Run("rejects skipping connecting", func(t *testing.T) {
		assert.False(t, StateIdle.CanTransitionTo(StateConnected))
		assert.False(t, StateReconnecting.CanTransitionTo(StateConnected))
		assert.False(t, StateConnected.CanTransitionTo(StateNoAnswer))
	})
}
