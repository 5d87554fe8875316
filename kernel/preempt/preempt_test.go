package preempt

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnableDeliversTicks(t *testing.T) {
	var count atomic.Uint64
	orig := Tick
	Tick = func() { count.Add(1) }
	defer func() { Tick = orig }()

	require.NoError(t, Enable(2000)) // 2ms
	defer Disable()

	require.Eventually(t, func() bool {
		return count.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestDisableStopsDelivery(t *testing.T) {
	var count atomic.Uint64
	orig := Tick
	Tick = func() { count.Add(1) }
	defer func() { Tick = orig }()

	require.NoError(t, Enable(2000))
	require.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, 5*time.Millisecond)

	Disable()
	require.False(t, Enabled())

	after := count.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, count.Load())
}

func TestEnableIsIdempotent(t *testing.T) {
	require.NoError(t, Enable(5000))
	defer Disable()
	require.NoError(t, Enable(5000))
	require.True(t, Enabled())
}
