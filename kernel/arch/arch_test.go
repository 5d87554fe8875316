package arch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitFrameRejectsEmptyStack(t *testing.T) {
	_, err := Default.InitFrame(nil, func() {}, func() {})
	require.ErrorIs(t, err, ErrBadStack)
}

func TestSwitchRunsEntryAndReturnsViaExitHook(t *testing.T) {
	stack := make([]byte, 4096)
	done := make(chan struct{})

	img, err := Default.InitFrame(stack, func() {}, func() { close(done) })
	require.NoError(t, err)

	Default.Switch(nil, img, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exit hook was never invoked")
	}
}

func TestCurrentSPReturnsNonZero(t *testing.T) {
	require.NotZero(t, Default.CurrentSP())
}
