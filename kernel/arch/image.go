// Package arch implements the ArchBackend capability contract: saving and
// restoring the live CPU register file, and building the initial register
// image a newly spawned thread resumes into. The scheduler package never
// names a register; everything architecture-specific lives here.
package arch

// StackAlignment is the architecture's required stack-pointer alignment.
// 16 bytes on x86_64.
const StackAlignment = 16

// FPStateBytes is the size of the saved FPU/vector state block. Sized for
// the x86_64 legacy FXSAVE area; a future AVX-512 backend would grow this.
const FPStateBytes = 512

// defaultRFLAGS is the flags value a freshly created thread starts with:
// interrupts enabled (IF), reserved bit 1 set.
const defaultRFLAGS = 0x202
