//go:build freestanding && amd64

package arch

import "unsafe"

// regImage is the real, ABI-significant register image switchASM saves to
// and restores from. Field order and size must match
// switch_freestanding_amd64.s exactly.
type regImage struct {
	rsp    uint64
	rbp    uint64
	rbx    uint64
	r12    uint64
	r13    uint64
	r14    uint64
	r15    uint64
	rflags uint64
	rip    uint64
	fp     [FPStateBytes]byte
}

func newDefaultBackend() Backend {
	return amd64Backend{}
}

type amd64Backend struct{}

// entryTrampoline is the well-known landing site every newly built frame
// resumes into. It reads the entry/exit function pointers this package
// wrote at the initial stack pointer (just below the top of stack) and
// calls them in order; see
// InitFrame. It never returns — if entry returns, it falls straight
// through into exitHook, which itself never returns.
//
//go:noescape
func entryTrampoline()

//go:noescape
func switchASM(prev, next *regImage)

//go:noescape
func currentSPASM() uintptr

func (amd64Backend) InitFrame(stack []byte, entry func(), exitHook func()) (Image, error) {
	if len(stack) == 0 {
		return nil, ErrBadStack
	}

	top := uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1
	top &^= uintptr(StackAlignment - 1)

	// Reserve two pointer-sized slots for the trampoline to read: the
	// entry function and the exit hook, in that order, growing down from
	// the (aligned) top of stack. entryTrampoline knows this layout.
	slots := top - 16
	entryPC := funcPC(entry)
	exitPC := funcPC(exitHook)
	*(*uintptr)(unsafe.Pointer(slots)) = entryPC
	*(*uintptr)(unsafe.Pointer(slots + 8)) = exitPC

	img := &regImage{
		rsp:    uint64(slots),
		rflags: defaultRFLAGS,
		rip:    uint64(funcPC(entryTrampolineValue)),
	}
	return img, nil
}

// entryTrampolineValue exists only so funcPC has something with the
// func() shape to read the code pointer out of; entryTrampoline itself is
// a bare assembly symbol with no Go func value.
var entryTrampolineValue func() = entryTrampoline

func funcPC(fn func()) uintptr {
	if fn == nil {
		return 0
	}
	fnVal := *(*uintptr)(unsafe.Pointer(&fn))
	if fnVal == 0 {
		return 0
	}
	return *(*uintptr)(unsafe.Pointer(fnVal))
}

func (amd64Backend) Switch(prev, next Image, fpDirty bool) {
	var prevImg *regImage
	if prev != nil {
		prevImg = prev.(*regImage)
	}
	nextImg := next.(*regImage)
	// fpDirty is ignored: switchASM saves and restores only the general
	// registers, RFLAGS and RIP, never the regImage.fp block.
	_ = fpDirty
	switchASM(prevImg, nextImg)
}

func (amd64Backend) CurrentSP() uintptr {
	return currentSPASM()
}
