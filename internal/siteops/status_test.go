package siteops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to JobStatus }{
		{StatusQueued, StatusRunning},
		{StatusQueued, StatusCancelled},
		{StatusRunning, StatusCompleted},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusCancelled},
	}
	for _, tr := range allowed {
		require.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	t.Parallel()

	terminals := []JobStatus{StatusCompleted, StatusFailed, StatusCancelled}
	all := []JobStatus{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

	for _, from := range terminals {
		require.True(t, from.IsTerminal())
		for _, to := range all {
			require.False(t, CanTransition(from, to), "%s -> %s should be illegal", from, to)
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	t.Parallel()

	require.False(t, CanTransition(StatusQueued, StatusCompleted))
	require.False(t, CanTransition(StatusQueued, StatusFailed))
	require.False(t, CanTransition(StatusRunning, StatusQueued))
	require.False(t, CanTransition(StatusCompleted, StatusRunning))
}

func TestStatusValid(t *testing.T) {
	t.Parallel()

	require.True(t, StatusQueued.Valid())
	require.True(t, StatusCancelled.Valid())
	require.False(t, JobStatus("paused").Valid())
}
