// Package threadcore is the external interface the rest of a kernel,
// hypervisor, or embedded image links against: spawn a thread, yield,
// check a preemption checkpoint, exit, join, and query stack health. It is
// a thin facade over kernel/scheduler, kernel/preempt, and kernel/arch —
// none of which name a CPU register or take a lock across a context
// switch.
package threadcore

import (
	"github.com/dmarro89/go-threadcore/kernel/arch"
	"github.com/dmarro89/go-threadcore/kernel/preempt"
	"github.com/dmarro89/go-threadcore/kernel/scheduler"
)

// Re-export the closed error set and lifecycle types callers need to name,
// so nothing outside this package needs to import kernel/scheduler
// directly.
type (
	ThreadID  = scheduler.ThreadID
	Error     = scheduler.Error
	StackInfo = scheduler.StackInfo
)

const (
	ErrTooManyThreads        = scheduler.ErrTooManyThreads
	ErrStackTooSmall         = scheduler.ErrStackTooSmall
	ErrBadAlignment          = scheduler.ErrBadAlignment
	ErrInvalidTid            = scheduler.ErrInvalidTid
	ErrAlreadyJoined         = scheduler.ErrAlreadyJoined
	ErrDeadlockRefused       = scheduler.ErrDeadlockRefused
	ErrPreemptionUnsupported = scheduler.ErrPreemptionUnsupported
	ErrQueueFull             = scheduler.ErrQueueFull
	ErrAlreadyQueued         = scheduler.ErrAlreadyQueued
)

const (
	StackOK        = scheduler.StackOK
	StackNearLimit = scheduler.StackNearLimit
	StackOverflow  = scheduler.StackOverflow
	StackCorrupted = scheduler.StackCorrupted
)

// Compile-time configuration, re-exported for callers that size their own
// stack pools against it.
const (
	MaxThreads     = scheduler.MaxThreads
	PriorityLevels = scheduler.PriorityLevels
	GuardBytes     = scheduler.GuardBytes
	MinStackBytes  = scheduler.MinStackBytes
)

// Init brings the core up: resets the descriptor table and starts the
// idle thread. Must be called exactly once, before any other function in
// this package.
func Init() {
	scheduler.Init()
}

// Spawn reserves a descriptor, builds an initial register image over the
// caller-provided stack, and publishes the new thread Ready at priority.
// The stack must be at least MinStackBytes+GuardBytes long and its end
// address (base + len) must be a multiple of the architecture's stack
// alignment; the core borrows it for the
// thread's entire lifetime and never frees it.
func Spawn(stack []byte, entry func(), priority int) (ThreadID, error) {
	return scheduler.Spawn(stack, entry, priority)
}

// YieldNow cooperatively gives up the CPU. Must be called from within a
// running thread's own entry function.
func YieldNow() {
	scheduler.YieldNow()
}

// PreemptionCheckpoint reschedules if a preemption tick has landed since
// the last reschedule, and does nothing otherwise. A tick only sets that
// flag; the switch happens when running code reaches this call.
func PreemptionCheckpoint() {
	scheduler.PreemptionCheckpoint()
}

// ExitCurrent tears the calling thread down with the given exit status and
// never returns. Must be called from within a running thread's own entry
// function.
func ExitCurrent(status int32) {
	tid, ok := scheduler.CurrentTid()
	if !ok {
		return
	}
	scheduler.ExitCurrent(tid, status)
}

// Join blocks until tid has exited, then reclaims its descriptor and
// returns its exit status. A thread may not join itself.
func Join(tid ThreadID) (int32, error) {
	return scheduler.Join(tid)
}

// CurrentTid reports the tid the core believes is executing right now.
func CurrentTid() (ThreadID, bool) {
	return scheduler.CurrentTid()
}

// StackStatus reports a point-in-time diagnostic snapshot of tid's stack:
// guard-zone integrity plus a watermark-derived usage estimate.
func StackStatus(tid ThreadID) (StackInfo, error) {
	return scheduler.StackStatus(tid)
}

// PreemptionEnable arms a repeating timer that, every intervalUs
// microseconds, flags a pending reschedule for the next
// PreemptionCheckpoint to act on. Returns ErrPreemptionUnsupported on a
// platform without a usable interval timer.
func PreemptionEnable(intervalUs int64) error {
	return preempt.Enable(intervalUs)
}

// PreemptionDisable cancels a timer armed by PreemptionEnable. Safe to
// call when preemption was never enabled.
func PreemptionDisable() {
	preempt.Disable()
}

// PreemptionEnabled reports whether a preemption timer is currently armed.
func PreemptionEnabled() bool {
	return preempt.Enabled()
}

// PreemptionTicks returns the number of preemption timer ticks delivered
// so far, whether or not any of them led to a reschedule.
func PreemptionTicks() uint64 {
	return preempt.Ticks()
}

// ArchStackAlignment is the architecture's required stack-pointer
// alignment, re-exported so callers sizing their own stack buffers do not
// need to import kernel/arch directly.
const ArchStackAlignment = arch.StackAlignment
