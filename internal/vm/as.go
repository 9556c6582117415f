package vm

import (
	"sort"

	"rv39kernel/internal/errno"
	"rv39kernel/internal/irqlock"
	"rv39kernel/internal/klog"
	"rv39kernel/internal/mem"
	"rv39kernel/internal/util"
)

// Layout constants, mirroring biscuit's vm.as.go address-space invariants
// adapted to Sv39's 27-bit VPN space. The trampoline occupies the highest
// page; the trap-context pages sit immediately below it, one per thread.
const (
	MaxVPN         = mem.VPN(1<<27 - 1)
	TrampolineVPN  = MaxVPN
	trapCtxTopVPN  = MaxVPN - 1
	UserStackPages = 2048 // 8 MiB / 4 KiB
	GuardPages     = 1
)

// AddressSpace is C5: an ordered set of Segments backing one process, its
// page table, and the trampoline/trap-context wiring every address space
// shares. Grounded on biscuit's Vm_t, replacing biscuit's single global
// Vmregion_t interval structure with an ordered Segment slice per spec §3.
type AddressSpace struct {
	irqlock.Mutex

	PT       *PageTable
	Segments []*Segment
	Heap     *Segment // nil until the first sbrk
	HeapBrk  mem.VA

	frames        *mem.FrameAllocator
	trampolinePPN mem.PPN
	trapCtxFrames map[int]mem.PPN // tid -> trap-context frame
}

func newBareAS(frames *mem.FrameAllocator, trampolinePPN mem.PPN) *AddressSpace {
	as := &AddressSpace{
		PT:            NewPageTable(frames),
		frames:        frames,
		trampolinePPN: trampolinePPN,
		trapCtxFrames: make(map[int]mem.PPN),
	}
	as.PT.Map(TrampolineVPN, trampolinePPN, FlagR|FlagX)
	return as
}

// insert keeps Segments ordered by start VPN, mirroring the teacher's
// ordered Vmregion_t list used for Lookup and overlap checks.
func (as *AddressSpace) insert(s *Segment) {
	i := sort.Search(len(as.Segments), func(i int) bool { return as.Segments[i].Start >= s.Start })
	as.Segments = append(as.Segments, nil)
	copy(as.Segments[i+1:], as.Segments[i:])
	as.Segments[i] = s
}

// Lookup returns the segment containing vpn, if any.
func (as *AddressSpace) Lookup(vpn mem.VPN) (*Segment, bool) {
	for _, s := range as.Segments {
		if s.Contains(vpn) {
			return s, true
		}
	}
	return nil, false
}

// AllocTrapContext maps a fresh supervisor-only RW trap-context page for
// thread tid at the slot immediately below the trampoline (minus tid, so
// each thread of a multi-threaded process gets a distinct page), per spec
// §3/§4.6.
func (as *AddressSpace) AllocTrapContext(tid int) mem.VPN {
	ppn, ok := as.frames.Alloc()
	if !ok {
		klog.Fatal("vm: out of frames allocating trap context")
	}
	vpn := trapCtxTopVPN - mem.VPN(tid)
	as.PT.Map(vpn, ppn, FlagR|FlagW)
	as.trapCtxFrames[tid] = ppn
	return vpn
}

// TrapContextVPN returns the VPN previously assigned to thread tid by
// AllocTrapContext, for callers (e.g. proc.Fork) that need to reference
// an already-allocated slot without allocating a new one.
func (as *AddressSpace) TrapContextVPN(tid int) (mem.VPN, bool) {
	_, ok := as.trapCtxFrames[tid]
	if !ok {
		return 0, false
	}
	return trapCtxTopVPN - mem.VPN(tid), true
}

// TrapContextFrame returns the physical frame backing thread tid's trap
// context, for the trap plane to read/write directly.
func (as *AddressSpace) TrapContextFrame(tid int) *mem.Frame {
	ppn, ok := as.trapCtxFrames[tid]
	if !ok {
		klog.Fatal("vm: no trap context for tid %d", tid)
	}
	return as.frames.Dmap(ppn)
}

// NewKernel builds the kernel's own address space: identity maps for
// text/rodata/data/bss (collapsed here into one RWX identity segment
// spanning the kernel image, since this hosted model does not link
// separate ELF sections) and the free physical frame range, plus the
// trampoline, per spec §4.5.
func NewKernel(frames *mem.FrameAllocator, trampolinePPN mem.PPN, imageStart, imageEnd, freeStart, freeEnd mem.VPN) *AddressSpace {
	as := newBareAS(frames, trampolinePPN)
	image := NewSegment(imageStart, imageEnd, Identical, FlagR|FlagW|FlagX)
	image.Map(as.PT, frames)
	as.insert(image)
	free := NewSegment(freeStart, freeEnd, Identical, FlagR|FlagW)
	free.Map(as.PT, frames)
	as.insert(free)
	return as
}

// FromELF parses an ELF image, maps one Framed segment per PT_LOAD
// (sized to the page-rounded mem size, permissions mirroring p_flags,
// always user-accessible), then a guard page, an 8 MiB user stack, and
// the trap-context page for the initial thread (tid 0). It returns the
// new address space, the initial user stack top, and the ELF entry
// point, per spec §4.5.
func FromELF(frames *mem.FrameAllocator, trampolinePPN mem.PPN, image []byte) (as *AddressSpace, stackTop mem.VA, entry mem.VA, err errno.Err_t) {
	e, loads, eerr := ParseELF(image)
	if eerr != 0 {
		return nil, 0, 0, eerr
	}
	as = newBareAS(frames, trampolinePPN)
	maxVPN := mem.VPN(0)
	for _, ph := range loads {
		startVPN := mem.VPN(mem.PageOf(ph.VAddr))
		endVPN := mem.VPN(util.Roundup(int(ph.VAddr+ph.MemSz), mem.PageSize) >> mem.PageShift)
		seg := NewSegment(startVPN, endVPN, Framed, permFlags(ph.Flags))
		seg.Map(as.PT, frames)
		as.insert(seg)
		if ph.FileSz > 0 {
			if int(ph.Offset+ph.FileSz) > len(image) {
				return nil, 0, 0, errno.ENOEXEC
			}
			// CopyData starts at the segment's first page; when VAddr is
			// not page aligned, pad with leading zero bytes to land the
			// file content at the correct in-page offset.
			pad := int(ph.VAddr) - int(startVPN)<<mem.PageShift
			buf := make([]byte, pad+int(ph.FileSz))
			copy(buf[pad:], image[ph.Offset:ph.Offset+ph.FileSz])
			seg.CopyData(as.PT, frames, buf)
		}
		if endVPN > maxVPN {
			maxVPN = endVPN
		}
	}
	stackStart := maxVPN + GuardPages
	stackEnd := stackStart + UserStackPages
	stack := NewSegment(stackStart, stackEnd, Framed, FlagR|FlagW)
	stack.Map(as.PT, frames)
	as.insert(stack)
	as.AllocTrapContext(0)
	stackTop = mem.VA(uint64(stackEnd) << mem.PageShift)
	return as, stackTop, mem.VA(e), 0
}

// FromFork deep-clones the parent address space for a child process. User
// segments are cloned via Segment.FromAnother; writable segments are
// write-stripped on both sides and marked CoW. The trap-context page is
// freshly allocated (not shared), and the trampoline mapping is replayed
// at the same physical page, per spec §4.5.
func FromFork(parent *AddressSpace, frames *mem.FrameAllocator) *AddressSpace {
	parent.Lock()
	defer parent.Unlock()
	child := newBareAS(frames, parent.trampolinePPN)
	for _, s := range parent.Segments {
		cow := s.Type == Framed && s.Perms&FlagW != 0
		cs := s.FromAnother(parent.PT, child.PT, frames, cow)
		child.insert(cs)
		if s == parent.Heap {
			child.Heap = cs
		}
	}
	child.HeapBrk = parent.HeapBrk
	child.AllocTrapContext(0)
	return child
}

// Sbrk extends (or, if increment is negative, shrinks) the heap segment
// by increment bytes and returns the new break. The heap segment is
// created lazily on first growth, demand-paged: Sbrk only widens the
// segment's VPN range, AllocOne/DeallocOne run at fault time for growth
// and immediately for shrink.
func (as *AddressSpace) Sbrk(heapBase mem.VA, increment int) (mem.VA, errno.Err_t) {
	as.Lock()
	defer as.Unlock()
	if as.Heap == nil {
		vpn := heapBase.VPN()
		// the heap starts empty ([vpn, vpn)), which NewSegment rejects
		as.Heap = &Segment{Start: vpn, End: vpn, Type: Framed, Perms: FlagR | FlagW,
			Frames: make(map[mem.VPN]mem.PPN)}
		as.insert(as.Heap)
		as.HeapBrk = heapBase
	}
	newBrk := mem.VA(int64(as.HeapBrk) + int64(increment))
	if int64(newBrk) < int64(heapBase) {
		return 0, errno.EINVAL
	}
	oldEnd := as.Heap.End
	newEnd := mem.VPN(util.Roundup(int(newBrk), mem.PageSize) >> mem.PageShift)
	if newEnd > oldEnd {
		as.Heap.End = newEnd
		// pages are mapped lazily by the page-fault handler
	} else if newEnd < oldEnd {
		for vpn := newEnd; vpn < oldEnd; vpn++ {
			if _, ok := as.Heap.Frames[vpn]; ok {
				as.Heap.DeallocOne(as.PT, as.frames, vpn)
			}
		}
		as.Heap.End = newEnd
	}
	as.HeapBrk = newBrk
	return newBrk, 0
}

// HandleFault classifies a page fault at vaddr requiring perm, per spec
// §4.5: if a segment covers vaddr and grants perm, the fault is
// handleable — demand-page it in if unmapped, or CoW-fixup it if mapped
// read-only and perm requires write. Otherwise the fault is fatal for the
// process (the caller kills it).
func (as *AddressSpace) HandleFault(vaddr mem.VA, perm Flag) errno.Err_t {
	as.Lock()
	defer as.Unlock()
	vpn := vaddr.VPN()
	seg, ok := as.Lookup(vpn)
	if !ok || seg.Perms&perm != perm {
		return errno.EFAULT
	}
	pte, mapped := as.PT.Translate(vpn)
	if !mapped {
		seg.AllocOne(as.PT, as.frames, vpn)
		if seg == as.StackSegment() {
			// zero explicitly even though fresh frames are already
			// zero-filled, matching spec §4.5's stack-specific callout.
			ppn := seg.Frames[vpn]
			fr := as.frames.Dmap(ppn)
			for i := range fr {
				fr[i] = 0
			}
		}
		return 0
	}
	if perm&FlagW != 0 && pte.has(FlagCOW) {
		seg.ReallocOne(as.PT, as.frames, vpn)
		return 0
	}
	return errno.EFAULT
}

func (as *AddressSpace) StackSegment() *Segment {
	// the user stack is the highest Framed segment below the trap-context
	// slots; callers that care about stack-specific zeroing can compare
	// pointer identity against this helper's result.
	var best *Segment
	for _, s := range as.Segments {
		if s.Type == Framed && s.Perms == (FlagR|FlagW) && s != as.Heap {
			if best == nil || s.Start > best.Start {
				best = s
			}
		}
	}
	return best
}

// Uvmfree releases every user segment's frames and the page table's
// interior frames, per spec §4.5's Uvmfree.
func (as *AddressSpace) Uvmfree() {
	as.Lock()
	defer as.Unlock()
	for _, s := range as.Segments {
		s.Unmap(as.PT, as.frames)
	}
	for tid, ppn := range as.trapCtxFrames {
		as.frames.Free(ppn)
		delete(as.trapCtxFrames, tid)
	}
	as.Segments = nil
	as.PT.Drop()
}
