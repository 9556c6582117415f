package bounds

import "sync"

// freeFn reports the number of free physical frames remaining; wired to
// mem.FrameAllocator.FreeCount at boot. Left nil in unit tests that don't exercise
// the allocator.
var (
	resMu   sync.Mutex
	freeFn  func() int
	reserve = 32 // frames kept back so an accounting charge never itself OOMs
)

// SetFreeFn installs the frame allocator's free-count accessor.
func SetFreeFn(f func() int) {
	resMu.Lock()
	defer resMu.Unlock()
	freeFn = f
}

// Reserve pre-charges the worst-case cost of b against the frame
// allocator's remaining free frames, without actually allocating. It
// returns false if satisfying the charge would leave fewer than the
// reserve margin, in which case the caller must return ENOMEM/ENOSPC
// instead of proceeding and possibly panicking a deeper allocator call.
func Reserve(b Bound) bool {
	resMu.Lock()
	defer resMu.Unlock()
	if freeFn == nil {
		return true
	}
	need := Pages(b) + reserve
	return freeFn() >= need
}
