package arch

import "errors"

// ErrFPUnsupported is returned by backends that cannot save/restore the
// floating-point/vector register block on demand.
var ErrFPUnsupported = errors.New("arch: backend does not support FP state save/restore")

// ErrBadStack is returned by InitFrame when handed a zero-length stack.
var ErrBadStack = errors.New("arch: stack region is empty")

// Image is an opaque register image owned by a single ArchBackend
// implementation. The scheduler stores one per thread descriptor and never
// inspects its contents; it only passes images back into Switch.
type Image interface{}

// Backend is the capability contract §4.2 of the core's design requires of
// an architecture port. The scheduler never names a register; every
// operation that touches CPU state goes through this interface.
type Backend interface {
	// InitFrame produces an initial register image that, when first
	// switched into, begins executing entry with all callee-saved
	// registers zeroed. exitHook is invoked if entry returns normally,
	// standing in for the trampoline's call into exit_current.
	InitFrame(stack []byte, entry func(), exitHook func()) (Image, error)

	// Switch atomically (from the caller's viewpoint) saves the live
	// register set into prev and resumes execution from next. fpDirty
	// tells the backend whether the FPU/vector block needs to be
	// saved/restored as part of this switch.
	Switch(prev, next Image, fpDirty bool)

	// CurrentSP reads the live stack pointer, used only for the
	// watermark diagnostic in stack_status.
	CurrentSP() uintptr
}

// SelfAware is an optional capability a Backend may implement when more
// than one Go call stack can plausibly be "the current thread" — true only
// of the hosted backend's goroutine-per-thread simulation. A backend that
// owns the only flow of control on the machine (the freestanding backend)
// has no need to implement it: the scheduler's own bookkeeping is always
// authoritative in that case.
type SelfAware interface {
	// Self reports the Image backing the calling goroutine, if the calling
	// goroutine is one started by a prior InitFrame call.
	Self() (Image, bool)
}

// Default is the backend wired to the current build target. A port to
// another architecture would satisfy this same Backend contract with a
// different register set.
var Default Backend = newDefaultBackend()
