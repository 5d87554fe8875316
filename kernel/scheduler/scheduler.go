// Package scheduler implements the preemptible thread core's policy layer:
// the fixed descriptor table, the priority run-queue wiring, and the
// operations the rest of the system drives it with (spawn, yield, exit,
// join). It never names a CPU register — all of that lives behind
// kernel/arch.Backend, an explicit capability interface a build-tagged
// backend satisfies.
package scheduler

import (
	"sync/atomic"
	"unsafe"

	"github.com/dmarro89/go-threadcore/kernel/arch"
	"github.com/dmarro89/go-threadcore/kernel/runqueue"
)

const noTid int32 = -1

const idleTid ThreadID = 0

// core holds every piece of scheduler-owned state. There is exactly one
// instance, sched, matching a single-CPU, single flow-of-control model
// with no SMP.
type core struct {
	descriptors [MaxThreads]descriptor
	runq        *runqueue.Queue
	current     atomic.Int32 // holds a ThreadID once Init has run; -1 before that
}

var sched *core

// needsResched decouples an asynchronous preemption tick from the actual
// reschedule: a tick only sets this flag (RequestResched), and the only
// legal place that acts on it outside of schedule() itself is
// PreemptionCheckpoint. schedule() clears it unconditionally as its first
// step, regardless of which caller reached it.
var needsResched atomic.Bool

// RequestResched records that a reschedule is due without performing one.
// It is the only action a preemption tick handler may take — async-signal-
// safe, never touching the run-queue or a thread's image.
func RequestResched() {
	needsResched.Store(true)
}

// ClearResched drops a pending reschedule request without acting on it,
// used when preemption is disabled so a stale tick cannot trigger a
// reschedule after the fact.
func ClearResched() {
	needsResched.Store(false)
}

// Init resets the scheduler to its startup state and brings up the idle
// thread. Init must run exactly once before any other operation in this
// package.
func Init() {
	sched = &core{runq: runqueue.New(PriorityLevels, MaxThreads)}
	for i := range sched.descriptors {
		sched.descriptors[i].joiner.Store(noTid)
	}
	sched.current.Store(noTid)

	idle := &sched.descriptors[idleTid]
	idle.setState(Reserving)
	idleStack := alignedStack(MinStackBytes + GuardBytes)
	if err := fillDescriptor(idle, idleStack, idleLoop, 0); err != nil {
		halt("scheduler: failed to build idle thread frame: " + err.Error())
		return
	}
	idle.setState(Running)
	sched.current.Store(int32(idleTid))

	// The very first switch has no previous execution context to save:
	// on real hardware the boot flow never resumes, so this is fire and
	// forget. It starts idle's own goroutine under the hosted backend;
	// under the freestanding backend it is the last thing the boot code
	// ever does.
	arch.Default.Switch(nil, idle.image, false)
}

// idleLoop is the thread every CPU falls back to when nothing else is
// ready. It never returns to its caller: every iteration re-evaluates the
// run-queue, so a freshly spawned thread is picked up without needing a
// dedicated wakeup path from idle's side.
func idleLoop() {
	for {
		Schedule()
	}
}

// trampolineExit is the shared, non-capturing exit hook installed for
// every thread. It must not be a closure: a raw funcPC-extracted call (the
// freestanding backend's InitFrame) cannot carry a closure's environment
// pointer, so every thread's frame points at this same top-level function
// and relies on the scheduler's own bookkeeping to know which tid is
// exiting.
func trampolineExit() {
	tid, _ := CurrentTid()
	ExitCurrent(tid, 0)
}

// Spawn reserves a free descriptor slot, seeds the caller-provided stack's
// guard zone, builds the initial register image, and publishes the
// descriptor Ready on the run-queue. The stack is borrowed from the caller
// for the thread's entire lifetime — allocation is entirely the caller's
// responsibility; the core never frees it.
func Spawn(stack []byte, entry func(), priority int) (ThreadID, error) {
	switch {
	case priority < 0:
		priority = 0
	case priority >= PriorityLevels:
		priority = PriorityLevels - 1
	}

	tid, err := reserveSlot()
	if err != nil {
		return 0, err
	}
	d := &sched.descriptors[tid]

	if err := fillDescriptor(d, stack, entry, priority); err != nil {
		d.setState(Empty)
		return 0, err
	}

	if err := publish(tid, d); err != nil {
		d.setState(Empty)
		return 0, err
	}
	return tid, nil
}

// fillDescriptor validates stack, seeds its guard zone, builds the initial
// register image, and resets the bookkeeping fields a descriptor needs
// before it can be published. The caller has already moved d to Reserving.
func fillDescriptor(d *descriptor, stack []byte, entry func(), priority int) error {
	if len(stack) < MinStackBytes+GuardBytes {
		return ErrStackTooSmall
	}
	// InitFrame builds the initial frame down from the top of the region
	// (base + len); what must be aligned is that address, not the length.
	top := uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack))
	if top%arch.StackAlignment != 0 {
		return ErrBadAlignment
	}

	seedCanary(stack)

	img, err := arch.Default.InitFrame(stack, entry, trampolineExit)
	if err != nil {
		return ErrStackTooSmall
	}

	d.priority = priority
	d.entry = entry
	d.stackBase = stack
	d.image = img
	d.joiner.Store(noTid)
	d.joinStatus = 0
	d.exitBarrier = make(chan struct{})
	d.watermark.Store(0)
	return nil
}

// alignedStack allocates an n-byte region whose end address (the address
// InitFrame treats as the top of stack) satisfies the architecture's
// required alignment. A plain make([]byte, n) gives no such guarantee, so
// this pads the allocation and slices it down to a suitably aligned tail.
// Used for the idle thread's own stack; a caller-supplied stack for Spawn
// gets the same validation in fillDescriptor but must align itself.
func alignedStack(n int) []byte {
	buf := make([]byte, n+arch.StackAlignment)
	base := uintptr(unsafe.Pointer(&buf[0]))
	end := base + uintptr(len(buf))
	alignedEnd := end &^ (uintptr(arch.StackAlignment) - 1)
	start := int(alignedEnd) - int(base) - n
	return buf[start : start+n]
}

// reserveSlot claims the first Empty descriptor via CAS, avoiding any lock
// across the search.
func reserveSlot() (ThreadID, error) {
	for i := range sched.descriptors {
		if sched.descriptors[i].casState(Empty, Reserving) {
			return ThreadID(i), nil
		}
	}
	return 0, ErrTooManyThreads
}

// publish moves a Reserving descriptor to Ready and enqueues it. Enqueueing
// a descriptor that is already on the run-queue is rejected rather than
// silently duplicated. The caller rolls a rejected descriptor back to
// Empty.
func publish(tid ThreadID, d *descriptor) error {
	if d.onQueue.Load() {
		return ErrAlreadyQueued
	}
	if !sched.runq.Enqueue(int(tid), d.priority) {
		return ErrQueueFull
	}
	d.onQueue.Store(true)
	d.setState(Ready)
	return nil
}

// CurrentTid reports the tid the scheduler believes is executing right
// now. ok is false only before Init has run.
func CurrentTid() (ThreadID, bool) {
	v := sched.current.Load()
	if v < 0 {
		return 0, false
	}
	return ThreadID(v), true
}

// callerIsCurrentThread reports whether the calling goroutine is genuinely
// the descriptor bookkeeping's notion of "current" — always true on the
// freestanding backend (a single flow of control), and true on the hosted
// backend only when the calling goroutine is the one InitFrame spawned for
// that descriptor. An external driver goroutine calling Join or Spawn is
// not "the current thread" under this check.
func callerIsCurrentThread() bool {
	sa, ok := arch.Default.(arch.SelfAware)
	if !ok {
		return true
	}
	tid, ok := CurrentTid()
	if !ok {
		return false
	}
	self, ok := sa.Self()
	if !ok {
		return false
	}
	return self == sched.descriptors[tid].image
}

// Schedule runs one dispatch decision: pick the next thread to run and
// switch to it if it differs from whatever is current. Called by yield,
// exit, the preemption checkpoint, and idle's own dispatch loop.
func Schedule() {
	needsResched.Store(false) // (a) read needs_resched, clear it

	prevTid, hasPrev := CurrentTid()

	if hasPrev {
		prev := &sched.descriptors[prevTid]
		if !prev.canaryIntact() {
			halt("scheduler: stack guard zone corrupted on thread " + prevTid.String())
			return
		}
		updateWatermark(prev)
	}

	nextTid := pickNext(prevTid, hasPrev)
	if hasPrev && nextTid == prevTid {
		return
	}

	next := &sched.descriptors[nextTid]

	var prevImage arch.Image
	if hasPrev {
		prev := &sched.descriptors[prevTid]
		prevImage = prev.image
		if prev.State() == Running {
			prev.setState(Ready)
			if sched.runq.Enqueue(int(prevTid), prev.priority) {
				prev.onQueue.Store(true)
			}
		}
	}

	next.setState(Running)
	next.onQueue.Store(false)
	sched.current.Store(int32(nextTid))

	arch.Default.Switch(prevImage, next.image, next.fpDirty)
}

// updateWatermark records the lowest stack pointer observed for d so far,
// used by StackStatus to estimate headroom. Under the hosted backend this
// tracks the goroutine's own stack rather than d's stack region (see
// arch's hosted backend doc comment) and is reported only as a coarse
// diagnostic, never as ground truth for canary corruption.
func updateWatermark(d *descriptor) {
	sp := arch.Default.CurrentSP()
	for {
		low := d.watermark.Load()
		if low != 0 && sp >= low {
			return
		}
		if d.watermark.CompareAndSwap(low, sp) {
			return
		}
	}
}

// pickNext chooses the next runnable tid: the highest-priority ready
// thread if one exists, otherwise the current thread if it is still
// Running, otherwise idle — idle is the universal fallback.
func pickNext(prevTid ThreadID, hasPrev bool) ThreadID {
	if tid, _, ok := sched.runq.DequeueHighest(); ok {
		return ThreadID(tid)
	}
	if hasPrev && sched.descriptors[prevTid].State() == Running {
		return prevTid
	}
	return idleTid
}

// YieldNow voluntarily gives up the CPU. The calling thread re-enters the
// run-queue at its own priority and Schedule picks whatever is next.
func YieldNow() {
	Schedule()
}

// PreemptionCheckpoint is the only legal place outside schedule() itself
// that observes needsResched: if a tick landed since the last checkpoint,
// it calls into Schedule, the same synchronization point a cooperative
// yield uses, so a tick landing mid-enqueue never sees inconsistent state.
// A checkpoint reached with no pending tick is a no-op.
func PreemptionCheckpoint() {
	if needsResched.Load() {
		Schedule()
	}
}

// ExitCurrent tears the calling thread down: records its exit status,
// wakes a registered joiner (or leaves the exit barrier for a later Join
// to observe), and never returns to its caller.
func ExitCurrent(tid ThreadID, status int32) {
	d := &sched.descriptors[tid]
	d.joinStatus = status
	d.setState(Exited)

	if joiner := d.joiner.Load(); joiner != noTid {
		jd := &sched.descriptors[joiner]
		if jd.casState(Blocked, Ready) {
			if sched.runq.Enqueue(int(joiner), jd.priority) {
				jd.onQueue.Store(true)
			}
		}
	}
	close(d.exitBarrier)

	Schedule()
	halt("scheduler: exited thread resumed")
}

// Join blocks the caller until tid has exited, then reclaims its
// descriptor and returns its exit status. Called from within a running
// thread's own entry function, Join registers as that thread's single
// joiner, marks itself Blocked, and yields — the caller's goroutine is
// genuinely parked until ExitCurrent wakes it. Called from an unmanaged
// external driver, Join instead waits on the thread's exit channel
// directly, since the driver has no descriptor of its own to block.
func Join(tid ThreadID) (int32, error) {
	if tid < 0 || int(tid) >= MaxThreads {
		return 0, ErrInvalidTid
	}

	self, hasSelf := CurrentTid()
	calledByThread := hasSelf && callerIsCurrentThread()
	if calledByThread && self == tid {
		return 0, ErrDeadlockRefused
	}

	d := &sched.descriptors[tid]

	for {
		switch d.State() {
		case Empty:
			return 0, ErrInvalidTid
		case Exited:
			status := d.joinStatus
			if d.casState(Exited, Empty) {
				return status, nil
			}
			return 0, ErrInvalidTid
		}

		if !calledByThread {
			<-d.exitBarrier
			continue
		}

		if !d.joiner.CompareAndSwap(noTid, int32(self)) {
			return 0, ErrAlreadyJoined
		}

		waiter := &sched.descriptors[self]
		waiter.setState(Blocked)
		YieldNow()
	}
}

// StackStatusKind classifies a stack diagnostic snapshot.
type StackStatusKind int

const (
	StackOK StackStatusKind = iota
	StackNearLimit
	StackOverflow
	StackCorrupted
)

// StackInfo is a point-in-time diagnostic snapshot for one thread's stack.
type StackInfo struct {
	Kind       StackStatusKind
	FreeBytes  int
	UsedBytes  int
	StackBytes int
}

// nearLimitFraction is the fraction of the stack, measured from the guard
// zone, within which StackStatus reports StackNearLimit instead of StackOK.
const nearLimitFraction = 8 // 1/8th of the stack

// StackStatus reports the current guard-zone and watermark state for tid.
// A corrupted canary always wins over a watermark reading, since a
// corrupted guard zone means the watermark itself may be unreliable.
func StackStatus(tid ThreadID) (StackInfo, error) {
	if tid < 0 || int(tid) >= MaxThreads {
		return StackInfo{}, ErrInvalidTid
	}
	d := &sched.descriptors[tid]
	if d.State() == Empty {
		return StackInfo{}, ErrInvalidTid
	}

	total := len(d.stackBase)
	info := StackInfo{Kind: StackOK, StackBytes: total}

	if !d.canaryIntact() {
		info.Kind = StackCorrupted
		return info, nil
	}

	base := uintptr(0)
	if total > 0 {
		base = uintptr(unsafe.Pointer(&d.stackBase[0]))
	}
	watermark := uintptr(d.watermark.Load())
	if watermark == 0 || base == 0 {
		return info, nil
	}

	used := int(base) + total - int(watermark)
	if used < 0 {
		used = 0
	}
	if used > total {
		used = total
	}
	info.UsedBytes = used
	info.FreeBytes = total - used

	switch {
	case used >= total:
		info.Kind = StackOverflow
	case info.FreeBytes <= total/nearLimitFraction:
		info.Kind = StackNearLimit
	}
	return info, nil
}

// haltHook lets tests observe an otherwise-fatal halt without the process
// actually dying.
var haltHook func(reason string)

// halt handles a fatal invariant violation. There is no real CPU to stop
// in a hosted build, so this parks the calling goroutine forever after
// giving any registered hook a chance to observe the failure — the closest
// hosted equivalent of the freestanding backend's HLT.
func halt(reason string) {
	if haltHook != nil {
		haltHook(reason)
	}
	select {}
}
