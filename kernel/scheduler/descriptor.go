package scheduler

import (
	"strconv"
	"sync/atomic"

	"github.com/dmarro89/go-threadcore/kernel/arch"
)

// Compile-time configuration. There is no runtime config file — every
// limit here is a build-time constant.
const (
	MaxThreads     = 32
	PriorityLevels = 8
	GuardBytes     = 64
	MinStackBytes  = 4096
)

// Canary is the fixed 64-bit nonzero pattern seeded across the guard zone
// of every non-Empty descriptor's stack. Value taken from the Rust
// original's stack_guard constant (thread.rs).
const Canary uint64 = 0xDEADBEEFCAFEBABE

// ThreadID is a small integer drawn from [0, MaxThreads).
type ThreadID int

func (t ThreadID) String() string {
	return strconv.Itoa(int(t))
}

// State is a descriptor's lifecycle state.
type State int32

const (
	Empty State = iota
	Reserving
	Ready
	Running
	Blocked
	Exited
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case Reserving:
		return "Reserving"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Exited:
		return "Exited"
	default:
		return "Invalid"
	}
}

// descriptor is one fixed-size thread record. Non-state fields are written
// only while the owning code has exclusive logical access: the spawner
// before publishing, the thread itself while running, or the scheduler
// while the thread sits between states.
type descriptor struct {
	state atomic.Int32 // holds a State; the sole CAS synchronization point

	priority int
	image    arch.Image
	fpDirty  bool

	stackBase []byte
	entry     func()

	joiner      atomic.Int32 // -1 if none, else a ThreadID
	joinStatus  int32
	exitBarrier chan struct{} // closed exactly once, when this thread exits

	watermark atomic.Uintptr // lowest observed stack pointer
	onQueue   atomic.Bool    // true iff currently published on the run-queue
}

func (d *descriptor) State() State { return State(d.state.Load()) }

func (d *descriptor) setState(s State) { d.state.Store(int32(s)) }

// casState attempts the one legal state synchronization primitive: compare-
// and-swap on the descriptor's state word.
func (d *descriptor) casState(from, to State) bool {
	return d.state.CompareAndSwap(int32(from), int32(to))
}

// canaryIntact reports whether the guard zone still holds the seeded
// pattern. A mismatch indicates stack overflow.
func (d *descriptor) canaryIntact() bool {
	if len(d.stackBase) < GuardBytes {
		return false
	}
	for i := 0; i+8 <= GuardBytes; i += 8 {
		var word uint64
		for b := 0; b < 8; b++ {
			word |= uint64(d.stackBase[i+b]) << (8 * b)
		}
		if word != Canary {
			return false
		}
	}
	return true
}

func seedCanary(stack []byte) {
	for i := 0; i+8 <= GuardBytes && i+8 <= len(stack); i += 8 {
		for b := 0; b < 8; b++ {
			stack[i+b] = byte(Canary >> (8 * b))
		}
	}
}
