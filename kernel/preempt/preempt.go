// Package preempt flags pending reschedules from a periodic OS timer
// (scheduler.RequestResched, acted on by a later PreemptionCheckpoint):
// SIGALRM delivered by a repeating ITIMER_REAL, using golang.org/x/sys/unix
// for the setitimer call the standard library's os package does not
// expose directly.
package preempt

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dmarro89/go-threadcore/kernel/scheduler"
)

// Tick is called once per timer interrupt, on the tick-delivery goroutine —
// not a real async-signal context, but treated as one: it must stay
// async-signal-safe, since the real target is bare-metal hardware where
// on_tick() runs in exactly that context. Production code always leaves it
// wired to scheduler.RequestResched, which only stores a flag; the actual
// reschedule happens later, when something calls scheduler.PreemptionCheckpoint
// from a safe point. Tests substitute a counting stand-in to observe tick
// delivery directly.
var Tick = scheduler.RequestResched

var (
	mu      sync.Mutex
	enabled atomic.Bool
	inTick  atomic.Bool // reentrancy guard: a slow handler must not overlap itself
	ticks   atomic.Uint64

	sigCh chan os.Signal
	stop  chan struct{}
	wg    sync.WaitGroup
)

// Enable arms a repeating ITIMER_REAL timer at the given microsecond
// interval and starts delivering SIGALRM to Tick. It reports
// scheduler.ErrPreemptionUnsupported rather than panicking on any platform
// where Setitimer is unavailable.
func Enable(intervalUs int64) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled.Load() {
		return nil
	}

	interval := unix.Timeval{
		Sec:  intervalUs / 1_000_000,
		Usec: intervalUs % 1_000_000,
	}
	timer := unix.Itimerval{Interval: interval, Value: interval}

	sigCh = make(chan os.Signal, 1)
	stop = make(chan struct{})
	signal.Notify(sigCh, syscall.SIGALRM)

	if _, err := unix.Setitimer(unix.ITIMER_REAL, timer); err != nil {
		signal.Stop(sigCh)
		return scheduler.ErrPreemptionUnsupported
	}

	wg.Add(1)
	go deliverTicks()

	enabled.Store(true)
	return nil
}

// deliverTicks runs on its own goroutine for the lifetime of one Enable/
// Disable cycle, translating each delivered SIGALRM into a call to onTick.
func deliverTicks() {
	defer wg.Done()
	for {
		select {
		case <-sigCh:
			onTick()
		case <-stop:
			return
		}
	}
}

// Disable cancels the timer and stops delivering ticks. Safe to call when
// preemption was never enabled.
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if !enabled.Load() {
		return
	}

	zero := unix.Itimerval{}
	_, _ = unix.Setitimer(unix.ITIMER_REAL, zero)
	signal.Stop(sigCh)
	close(stop)
	wg.Wait()

	scheduler.ClearResched()
	enabled.Store(false)
}

// Enabled reports whether a preemption timer is currently armed.
func Enabled() bool { return enabled.Load() }

// Ticks returns the number of timer ticks delivered so far, independent of
// whether any of them resulted in an actual reschedule.
func Ticks() uint64 { return ticks.Load() }

// onTick is the body a delivered tick runs, reached from deliverTicks
// rather than directly from a signal handler. It performs exactly two
// actions — a relaxed tick increment and the Tick call, which itself only
// stores a flag — and never calls into the scheduler's run-queue or switch
// path directly, matching what a real interrupt handler would be allowed
// to do. The reentrancy guard remains because ticks can still arrive
// faster than Tick returns under a slow delivery goroutine.
func onTick() {
	if !inTick.CompareAndSwap(false, true) {
		return
	}
	defer inTick.Store(false)

	ticks.Add(1)
	Tick()
}
