//go:build !freestanding || !amd64

package arch

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"unsafe"
)

// The freestanding backend (freestanding_amd64.go) performs a raw
// register-level context switch and is only safe to link into a build that
// owns the whole CPU — a bare-metal kernel, embedded image, or hypervisor
// guest linked with -tags freestanding. Under an ordinary `go build`/`go
// test` there is a real Go runtime underneath us with its own goroutine
// scheduler and stack maps; swapping RSP out from under it would corrupt
// that runtime rather than demonstrate anything. This hosted backend gives
// the same Backend contract by baton-passing between real goroutines, so
// the scheduler's policy (run-queue, priorities, join, preemption flag) can
// be exercised end-to-end by `go test` without touching a single register.
//
// A stand-in build-tagged backend for a register-switching one is a common
// shape for this problem: a plain-build stub can carry a scheduler's tests
// even when the real switch cannot run under the toolchain building them.
// This backend goes further than a no-op stand-in and generalizes the idea
// from "make tests link" to "make tests actually observe cooperative
// scheduling."
//
// One real limitation falls out of this: entry runs on the goroutine's own
// runtime-managed stack, not on the caller-supplied stack region. Canary
// placement/overflow detection still works (entry can still write into the
// caller's stack slice directly), but CurrentSP cannot report a genuine
// watermark for that region.
func newDefaultBackend() Backend {
	return hostedBackend{}
}

type hostedBackend struct{}

// hostedImage is one goroutine parked on resume, waiting to be told to run.
type hostedImage struct {
	resume chan struct{}
}

// selfRegistry maps a Go runtime goroutine id to the hostedImage it is
// backing, so code running "as" a thread can recognize its own image
// without the core carrying any notion of thread-local storage itself —
// this bookkeeping exists only to make the hosted backend testable and has
// no counterpart on the freestanding backend, where there is never more
// than one flow of control to disambiguate.
var selfRegistry sync.Map // goroutine id (uint64) -> *hostedImage

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		if id, err := strconv.ParseUint(string(b[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

func (hostedBackend) InitFrame(stack []byte, entry func(), exitHook func()) (Image, error) {
	if len(stack) == 0 {
		return nil, ErrBadStack
	}

	img := &hostedImage{resume: make(chan struct{})}

	go func() {
		<-img.resume
		selfRegistry.Store(goroutineID(), img)
		entry()
		exitHook()
		// exitHook returned, which its permanent switch away normally
		// makes unreachable. Park rather than fall off the end.
		select {}
	}()

	return img, nil
}

func (hostedBackend) Switch(prev, next Image, _ bool) {
	nextImg := next.(*hostedImage)
	nextImg.resume <- struct{}{}

	if prev != nil {
		prevImg := prev.(*hostedImage)
		// Block here, inside the goroutine being switched away from,
		// until a future Switch call resumes this exact image.
		<-prevImg.resume
	}
}

func (hostedBackend) CurrentSP() uintptr {
	var local byte
	return uintptr(unsafe.Pointer(&local))
}

// Self reports the hostedImage backing the calling goroutine, if any. It
// lets the scheduler tell a thread's own yield/join call apart from the
// same operation invoked by an unmanaged external driver goroutine. Only
// the hosted backend implements arch.SelfAware.
func (hostedBackend) Self() (Image, bool) {
	v, ok := selfRegistry.Load(goroutineID())
	if !ok {
		return nil, false
	}
	return v.(*hostedImage), true
}
