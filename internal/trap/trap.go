// Package trap implements C6: the per-thread trap context and the
// kernel-side half of the U<->S trampoline dispatch. The trampoline's
// hand-written assembly (__alltraps/__restore) is out of scope per
// spec.md §1 (platform bring-up); this package models everything the
// assembly hands off to and receives back from, so the dispatch logic in
// §4.6 is fully exercised by tests even though no real CPU executes it.
package trap

import (
	"rv39kernel/internal/errno"
	"rv39kernel/internal/stats"
)

// Context is the trap-context page laid out per spec §4.6: general
// registers, sstatus/sepc, and the three values __alltraps needs to
// re-enter the kernel (kernel_satp, kernel_sp, trap_handler).
type Context struct {
	X           [32]uint64
	Sstatus     uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSp    uint64
	TrapHandler uint64
}

// AppInitContext populates a fresh trap context for a thread about to
// start (or restart, after exec) running user code, per spec §4.6.
func AppInitContext(entry, userSP, kernelSatp, kernelSp, trapHandler uint64) *Context {
	ctx := &Context{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSp:    kernelSp,
		TrapHandler: trapHandler,
	}
	ctx.X[2] = userSP // sp
	return ctx
}

// Cause enumerates the scause values the kernel dispatches on, per spec
// §4.6.
type Cause int

const (
	UserEnvCall Cause = iota
	SupervisorTimer
	StorePageFault
	LoadPageFault
	InstructionPageFault
	IllegalInstruction
	StoreFault
	LoadFault
	FromSupervisor // a trap arrived while already in S-mode
)

// Outcome reports what Dispatch decided should happen next, letting the
// scheduler/process-management layer (out of this package, to avoid an
// import cycle with proc) act on the result.
type Outcome int

const (
	Continue  Outcome = iota // resume this thread
	Reschedule                // suspend this thread, run another
	Kill                      // the owning process must be killed
)

// Hooks lets the trap dispatcher call back into the syscall surface, the
// scheduler, and the VM fault handler without this package depending on
// any of them.
type Hooks interface {
	// Syscall dispatches on ctx.X[17] (id) with args ctx.X[10..16],
	// storing the result into ctx.X[10].
	Syscall(ctx *Context)
	// TimerTick reprograms the next timer interrupt.
	TimerTick()
	// PageFault attempts to repair a fault at the given virtual address
	// requiring the named access; 0 means repaired.
	PageFault(vaddr uint64, cause Cause) errno.Err_t
}

// Dispatch implements the kernel-side half of spec §4.6's cause table. It
// mutates ctx in place (e.g. advancing sepc past ecall) and returns what
// the caller should do next.
func Dispatch(cause Cause, ctx *Context, h Hooks) Outcome {
	switch cause {
	case UserEnvCall:
		stats.Kernel.Syscalls.Inc()
		ctx.Sepc += 4
		h.Syscall(ctx)
		return Continue
	case SupervisorTimer:
		h.TimerTick()
		return Reschedule
	case StorePageFault, LoadPageFault, InstructionPageFault:
		stats.Kernel.PageFaults.Inc()
		if err := h.PageFault(ctx.Sepc, cause); err != 0 {
			return Kill
		}
		return Continue
	case IllegalInstruction, StoreFault, LoadFault:
		return Kill
	case FromSupervisor:
		panic("trap: re-entrant trap from supervisor mode is unsupported")
	default:
		panic("trap: unknown cause")
	}
}
