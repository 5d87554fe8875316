package runqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(8, 16)

	require.True(t, q.Enqueue(3, 2))
	require.True(t, q.Enqueue(5, 2))

	tid, level, ok := q.DequeueHighest()
	require.True(t, ok)
	require.Equal(t, 3, tid)
	require.Equal(t, 2, level)

	tid, level, ok = q.DequeueHighest()
	require.True(t, ok)
	require.Equal(t, 5, tid)
	require.Equal(t, 2, level)

	require.True(t, q.Empty())
}

func TestDequeuePrefersHighestLevel(t *testing.T) {
	q := New(8, 16)

	require.True(t, q.Enqueue(1, 1))
	require.True(t, q.Enqueue(2, 5))
	require.True(t, q.Enqueue(3, 3))

	_, level, ok := q.DequeueHighest()
	require.True(t, ok)
	require.Equal(t, 5, level)

	_, level, ok = q.DequeueHighest()
	require.True(t, ok)
	require.Equal(t, 3, level)

	_, level, ok = q.DequeueHighest()
	require.True(t, ok)
	require.Equal(t, 1, level)
}

func TestDequeueEmptyReturnsFalse(t *testing.T) {
	q := New(8, 4)
	_, _, ok := q.DequeueHighest()
	require.False(t, ok)
	require.True(t, q.Empty())
}

func TestEnqueueFullReturnsFalse(t *testing.T) {
	q := New(8, 2)
	require.True(t, q.Enqueue(1, 0))
	// Ring capacity 2 can only ever hold 1 live element (head==tail means
	// empty, so capacity-1 usable slots).
	require.False(t, q.Enqueue(2, 0))
}

func TestConcurrentEnqueueDequeuePreservesAllIDs(t *testing.T) {
	q := New(8, 256)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for !q.Enqueue(tid, tid%8) {
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for len(seen) < n {
		if tid, _, ok := q.DequeueHighest(); ok {
			require.False(t, seen[tid], "tid %d dequeued twice", tid)
			seen[tid] = true
		}
	}
	require.True(t, q.Empty())
}
