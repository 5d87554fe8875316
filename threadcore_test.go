package threadcore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// newStack allocates a stack whose end address satisfies the
// architecture's alignment requirement. A plain make([]byte, n) carries no
// such guarantee, so this pads the allocation and slices it down.
func newStack() []byte {
	n := MinStackBytes + GuardBytes
	buf := make([]byte, n+ArchStackAlignment)
	base := uintptr(unsafe.Pointer(&buf[0]))
	end := base + uintptr(len(buf))
	alignedEnd := end &^ (uintptr(ArchStackAlignment) - 1)
	start := int(alignedEnd) - int(base) - n
	return buf[start : start+n]
}

func TestSpawnJoinRoundTrip(t *testing.T) {
	Init()

	tid, err := Spawn(newStack(), func() {
		ExitCurrent(9)
	}, 0)
	require.NoError(t, err)

	status, err := Join(tid)
	require.NoError(t, err)
	require.Equal(t, int32(9), status)
}

func TestExitPlusJoinScenario(t *testing.T) {
	// Spawn T; T yields once and exits with a status; an external caller
	// joins and observes it.
	Init()

	tid, err := Spawn(newStack(), func() {
		YieldNow()
		ExitCurrent(42)
	}, 3)
	require.NoError(t, err)

	status, err := Join(tid)
	require.NoError(t, err)
	require.Equal(t, int32(42), status)
}

func TestStackStatusNotCorruptedForUntouchedGuardZone(t *testing.T) {
	Init()

	tid, err := Spawn(newStack(), func() {
		YieldNow()
		ExitCurrent(0)
	}, 0)
	require.NoError(t, err)

	info, err := StackStatus(tid)
	require.NoError(t, err)
	require.NotEqual(t, StackCorrupted, info.Kind)

	_, err = Join(tid)
	require.NoError(t, err)
}

func TestPreemptionEnableDisableRoundTrip(t *testing.T) {
	err := PreemptionEnable(5000)
	require.NoError(t, err)
	require.True(t, PreemptionEnabled())

	PreemptionDisable()
	require.False(t, PreemptionEnabled())
}
