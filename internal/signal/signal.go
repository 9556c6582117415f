// Package signal implements C10. Grounded on the bitset/table shape
// spec.md §4.10 describes; biscuit has no signal subsystem of its own
// (it predates POSIX signal support), so the bitset/table layout here
// follows the teacher's general preference for small fixed-size arrays
// and explicit mutex-guarded state (see tinfo.Tnote_t) rather than a
// biscuit file this replaces line for line.
package signal

import (
	"sync"

	"rv39kernel/internal/errno"
	"rv39kernel/internal/trap"
)

const (
	MinSig = 1
	MaxSig = 31 // inclusive; signals 0 and 32+ are invalid per spec §4.10

	SIGKILL = 9
	SIGSTOP = 19
	SIGCONT = 18
	SIGDEF  = 0 // default-disposition marker, never itself deliverable
)

// Action is a registered signal handler, per the rt_sigaction ABI.
type Action struct {
	Handler uint64 // 0 means default
	Mask    uint32 // signals blocked while this handler runs
}

func isKernelHandled(sig int) bool {
	return sig == SIGKILL || sig == SIGSTOP || sig == SIGCONT
}

// State is the per-process signal state named in spec §3's PCB:
// pending bitset, mask bitset, per-signal action table, handling_sig,
// frozen, killed, and the trap-context backup used by sigreturn.
type State struct {
	mu sync.Mutex

	pending     uint32
	mask        uint32
	actions     [MaxSig + 1]Action
	handlingSig int // -1 when no handler is active

	Frozen bool
	Killed bool

	trapCtxBackup *trap.Context
}

func NewState() *State {
	return &State{handlingSig: -1}
}

// Fork copies signal state into a new child, per spec §4.9's "copy the
// fd table and signal state" fork step.
func (s *State) Fork() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	child := &State{
		mask:        s.mask,
		actions:     s.actions,
		handlingSig: -1,
	}
	return child
}

// Kill sets sig pending in the target, per spec §4.10: EINVAL if the bit
// is already set (no queueing) or sig is out of [1,31].
func (s *State) Kill(sig int) errno.Err_t {
	if sig < MinSig || sig > MaxSig {
		return errno.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bit := uint32(1) << uint(sig)
	if s.pending&bit != 0 {
		return errno.EINVAL
	}
	s.pending |= bit
	return 0
}

// SetMask installs a new signal mask, returning the previous one, per
// rt_sigprocmask's ABI.
func (s *State) SetMask(mask uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.mask
	s.mask = mask
	return old
}

// Mask returns the currently installed signal mask, for rt_sigprocmask
// to combine with a requested change.
func (s *State) Mask() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mask
}

// SetAction installs act for sig, returning the previous action.
func (s *State) SetAction(sig int, act Action) (Action, errno.Err_t) {
	if sig < MinSig || sig > MaxSig {
		return Action{}, errno.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.actions[sig]
	s.actions[sig] = act
	return old, 0
}

// Deliver implements the pre-return-to-user scan from spec §4.10: the
// lowest-numbered pending, unmasked, not-masked-by-the-current-handler
// signal is processed. Kernel-handled signals update Frozen/Killed and
// clear immediately. A user handler causes ctx to be redirected and the
// original saved into the backup, returning true to tell the caller a
// handler entry is pending. A signal with no registered handler is
// cleared from pending and passed to onUnhandled (if non-nil), and the
// scan continues.
func (s *State) Deliver(ctx *trap.Context, onUnhandled func(sig int)) (entered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var handlerMask uint32
	if s.handlingSig >= 0 {
		handlerMask = s.actions[s.handlingSig].Mask
	}
	for sig := MinSig; sig <= MaxSig; sig++ {
		bit := uint32(1) << uint(sig)
		if s.pending&bit == 0 {
			continue
		}
		if s.mask&bit != 0 || handlerMask&bit != 0 {
			continue
		}
		if isKernelHandled(sig) {
			switch sig {
			case SIGKILL:
				s.Killed = true
			case SIGSTOP:
				s.Frozen = true
			case SIGCONT:
				s.Frozen = false
			}
			s.pending &^= bit
			continue
		}
		act := s.actions[sig]
		if act.Handler == 0 {
			s.pending &^= bit
			if onUnhandled != nil {
				onUnhandled(sig)
			}
			continue
		}
		backup := *ctx
		s.trapCtxBackup = &backup
		ctx.Sepc = act.Handler
		ctx.X[10] = uint64(sig)
		s.handlingSig = sig
		s.pending &^= bit
		return true
	}
	return false
}

// Sigreturn restores ctx from the backup taken by Deliver and clears
// handling_sig, returning the original a0 per spec §4.10.
func (s *State) Sigreturn(ctx *trap.Context) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trapCtxBackup == nil {
		return ctx.X[10]
	}
	orig := *s.trapCtxBackup
	a0 := orig.X[10]
	*ctx = orig
	s.handlingSig = -1
	s.trapCtxBackup = nil
	return a0
}

// IsFrozen reports whether the process is presently frozen by SIGSTOP.
func (s *State) IsFrozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Frozen
}

// IsKilled reports whether SIGKILL has been delivered.
func (s *State) IsKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Killed
}
