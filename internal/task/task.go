// Package task implements C8: the thread control block and the
// register-saving context switch, grounded on biscuit's tinfo.Tnote_t
// (biscuit/src/tinfo/tinfo.go) adapted away from biscuit's patched-runtime
// green threads (runtime.Gptr/Setgptr, only available in biscuit's
// compiler fork, which is out of scope per spec.md §1) toward an
// explicit, cooperatively-switched TaskContext the scheduler saves and
// restores by hand, matching how a freestanding Sv39 kernel actually
// performs a context switch in assembly.
package task

import (
	"sync"

	"rv39kernel/internal/errno"
	"rv39kernel/internal/mem"
	"rv39kernel/internal/trap"
)

// Status is a thread's place in its lifecycle, per spec §4.8.
type Status int

const (
	Ready Status = iota
	Running
	Blocked
	Died
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Died:
		return "died"
	default:
		return "unknown"
	}
}

// Context holds the callee-saved registers a context switch must
// preserve: ra, sp, and s0..s11, per spec §4.8.
type Context struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// Tid is a kernel-wide unique thread id.
type Tid int

// TCB is C8's thread control block. It owns a kernel stack, a trap
// context page (borrowed from the owning address space), and enough
// bookkeeping to be switched to and from by the scheduler. Grounded on
// tinfo.Tnote_t's State/Alive/Killed/mutex shape, replacing its
// interface{} State field with the concrete Status enum spec.md names.
type TCB struct {
	sync.Mutex

	ID     Tid
	PID    int
	Status Status
	Killed bool

	KernelStack []byte // owned; never touched once Status != Blocked/Ready during switch
	Ctx         Context

	TrapCtxVPN mem.VPN
	trapCtx    *trap.Context

	ExitCode int
	waitCh   chan struct{}
}

// NewTCB allocates a kernel stack and wires the initial trap context for
// a freshly created thread.
func NewTCB(id Tid, pid int, stackSize int, trapCtxVPN mem.VPN, entry, userSP, kernelSatp, trapHandler uint64) *TCB {
	t := &TCB{
		ID:          id,
		PID:         pid,
		Status:      Ready,
		KernelStack: make([]byte, stackSize),
		TrapCtxVPN:  trapCtxVPN,
		waitCh:      make(chan struct{}),
	}
	kernelSP := uint64(uintptr(len(t.KernelStack)))
	t.trapCtx = trap.AppInitContext(entry, userSP, kernelSatp, kernelSP, trapHandler)
	t.Ctx = Context{SP: kernelSP}
	return t
}

// TrapContext exposes the thread's trap context for the trap plane to
// read/write each time the thread enters or leaves the kernel.
func (t *TCB) TrapContext() *trap.Context { return t.trapCtx }

// Kill marks the thread doomed; the next trip through the trap/syscall
// plane observes Killed and unwinds, per spec §4.10's freeze/kill model.
func (t *TCB) Kill(code int) {
	t.Lock()
	defer t.Unlock()
	t.Killed = true
	t.ExitCode = code
}

// MarkDied transitions the thread to Died and wakes any waiters blocked
// on WaitDead.
func (t *TCB) MarkDied(code int) {
	t.Lock()
	if t.Status == Died {
		t.Unlock()
		return
	}
	t.Status = Died
	t.ExitCode = code
	ch := t.waitCh
	t.Unlock()
	close(ch)
}

// WaitDead blocks until the thread has died, returning its exit code.
func (t *TCB) WaitDead() int {
	<-t.waitCh
	t.Lock()
	defer t.Unlock()
	return t.ExitCode
}

// SetStatus transitions the thread's lifecycle status. The only edge it
// rejects is leaving Died (ESRCH); any other transition is accepted.
func (t *TCB) SetStatus(s Status) errno.Err_t {
	t.Lock()
	defer t.Unlock()
	if t.Status == Died {
		return errno.ESRCH
	}
	t.Status = s
	return 0
}
