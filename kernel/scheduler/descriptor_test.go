package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "Ready", Ready.String())
	require.Equal(t, "Invalid", State(99).String())
}

func TestCanaryIntactDetectsCorruption(t *testing.T) {
	stack := make([]byte, MinStackBytes+GuardBytes)
	seedCanary(stack)

	d := &descriptor{stackBase: stack}
	require.True(t, d.canaryIntact())

	stack[0] ^= 0xFF
	require.False(t, d.canaryIntact())
}

func TestCanaryIntactRejectsShortStack(t *testing.T) {
	d := &descriptor{stackBase: make([]byte, 4)}
	require.False(t, d.canaryIntact())
}

func TestCasStateOnlyTransitionsOnMatch(t *testing.T) {
	d := &descriptor{}
	d.setState(Ready)

	require.False(t, d.casState(Running, Blocked))
	require.Equal(t, Ready, d.State())

	require.True(t, d.casState(Ready, Running))
	require.Equal(t, Running, d.State())
}
