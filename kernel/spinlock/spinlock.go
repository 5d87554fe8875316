// Package spinlock implements a minimal spin-based mutex for validating the
// core: a bare test-and-set loop, no OS-level blocking, no fairness
// guarantee — appropriate only for very short critical sections. The
// scheduler itself never uses it.
package spinlock

import "sync/atomic"

// Mutex is a CAS spin lock. The zero value is unlocked and ready to use.
type Mutex struct {
	locked atomic.Bool
}

// Lock spins until the lock is acquired. There is no bound on spin count:
// on a real single-CPU target this would deadlock if the holder never
// releases from a preempted context.
func (m *Mutex) Lock() {
	for !m.locked.CompareAndSwap(false, true) {
	}
}

// TryLock attempts to acquire the lock without spinning, reporting whether
// it succeeded.
func (m *Mutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}

// Unlock releases the lock. Unlocking an already-unlocked Mutex is a
// caller error and is not detected, matching the original's release,
// which trusts its caller the same way.
func (m *Mutex) Unlock() {
	m.locked.Store(false)
}
