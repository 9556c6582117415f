// Package mem implements C1 (frame allocator) and the physical-memory
// backing store the rest of the kernel reads and writes through. It is
// grounded on biscuit/src/mem/mem.go's Physmem_t, adapted from biscuit's
// per-CPU free-list/refcount design (which exists to avoid lock contention
// across biscuit's SMP target) down to the single-CPU model spec.md
// requires: one free stack, one bump cursor, one irqlock.Mutex.
package mem

import (
	"rv39kernel/internal/irqlock"
	"rv39kernel/internal/klog"
)

// PageShift/PageSize describe the fixed 4 KiB page granularity used
// throughout Sv39.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
	pageMask  = PageSize - 1
)

// PPN is a physical page number (44 significant bits in Sv39).
type PPN uint64

// VPN is a virtual page number (27 significant bits in Sv39).
type VPN uint64

// PA/VA are byte addresses.
type PA uint64
type VA uint64

// PageOf returns the page number containing the address.
func PageOf(a uint64) uint64 { return a >> PageShift }

// AddrOf returns the byte address at the start of page n.
func AddrOf(n uint64) uint64 { return n << PageShift }

// Offset extracts the page offset of a byte address.
func Offset(a uint64) uint64 { return a & pageMask }

func (p PA) PPN() PPN    { return PPN(PageOf(uint64(p))) }
func (p PPN) Addr() PA   { return PA(AddrOf(uint64(p))) }
func (v VA) VPN() VPN    { return VPN(PageOf(uint64(v))) }
func (v VPN) Addr() VA   { return VA(AddrOf(uint64(v))) }

// Frame is the contents of one physical page.
type Frame [PageSize]byte

// PhysMem is the simulated physical address space backing every PPN the
// frame allocator hands out. Sv39 implementations address real DRAM
// directly; this hosted model keeps one Frame per page in a slice indexed
// by ppn-base, playing the role of the teacher's direct map (mem.Dmap).
type PhysMem struct {
	base   PPN
	frames []Frame
}

// NewPhysMem allocates backing storage for the page range [base, base+n).
func NewPhysMem(base PPN, n int) *PhysMem {
	return &PhysMem{base: base, frames: make([]Frame, n)}
}

// Dmap returns the direct-mapped byte contents of ppn, mirroring
// biscuit's Physmem_t.Dmap. It panics if ppn is out of the backing range,
// matching the teacher's "direct map not large enough" panic.
func (m *PhysMem) Dmap(ppn PPN) *Frame {
	idx := int64(ppn) - int64(m.base)
	if idx < 0 || idx >= int64(len(m.frames)) {
		klog.Fatal("mem: ppn %#x outside physical range", ppn)
	}
	return &m.frames[idx]
}

// FrameAllocator hands out and reclaims PPNs over [start, end), per spec
// §4.1. alloc() pops the recycled stack before advancing the bump cursor;
// alloc_n requires contiguous never-allocated frames (used only for DMA
// buffers the out-of-scope VirtIO driver needs).
type FrameAllocator struct {
	irqlock.Mutex
	phys   *PhysMem
	start  PPN
	end    PPN
	cursor PPN
	free   []PPN
	// refcnt tracks sharing for CoW; every allocated frame starts at 1,
	// and a freed or never-allocated PPN is absent (Refcnt reports 0).
	refcnt map[PPN]uint32
	// live remembers frames currently allocated, to turn a double free or
	// a free of a never-allocated frame into a fatal invariant violation
	// per spec §4.1.
	live map[PPN]bool
}

// NewFrameAllocator creates an allocator over the physical page range
// [start, end), backed by phys.
func NewFrameAllocator(phys *PhysMem, start, end PPN) *FrameAllocator {
	if start >= end {
		klog.Fatal("mem: empty frame range")
	}
	return &FrameAllocator{
		phys:   phys,
		start:  start,
		end:    end,
		cursor: start,
		refcnt: make(map[PPN]uint32),
		live:   make(map[PPN]bool),
	}
}

// FreeCount reports the number of frames the allocator could still hand
// out, used by bounds.Reserve to pre-charge syscalls against OOM.
func (f *FrameAllocator) FreeCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.free) + int(f.end-f.cursor)
}

func (f *FrameAllocator) zero(ppn PPN) {
	fr := f.phys.Dmap(ppn)
	for i := range fr {
		fr[i] = 0
	}
}

// Alloc hands out one zero-filled frame, or (0, false) if exhausted.
func (f *FrameAllocator) Alloc() (PPN, bool) {
	f.Lock()
	ppn, ok := f.allocLocked()
	f.Unlock()
	if ok {
		f.zero(ppn)
	}
	return ppn, ok
}

// AllocNoZero hands out one frame without clearing its contents, used by
// the page-fault CoW path, which overwrites the whole page immediately
// anyway.
func (f *FrameAllocator) AllocNoZero() (PPN, bool) {
	f.Lock()
	defer f.Unlock()
	return f.allocLocked()
}

func (f *FrameAllocator) allocLocked() (PPN, bool) {
	if n := len(f.free); n > 0 {
		ppn := f.free[n-1]
		f.free = f.free[:n-1]
		f.live[ppn] = true
		f.refcnt[ppn] = 1
		return ppn, true
	}
	if f.cursor >= f.end {
		return 0, false
	}
	ppn := f.cursor
	f.cursor++
	f.live[ppn] = true
	f.refcnt[ppn] = 1
	return ppn, true
}

// AllocN returns n contiguous, never-before-allocated frames, or
// (nil, false) if the bump cursor cannot advance by n. Per spec §4.1 this
// ignores the recycled stack and is used only for DMA allocation.
func (f *FrameAllocator) AllocN(n int) ([]PPN, bool) {
	if n <= 0 {
		klog.Fatal("mem: AllocN bad n")
	}
	f.Lock()
	defer f.Unlock()
	if f.cursor+PPN(n) > f.end {
		return nil, false
	}
	out := make([]PPN, n)
	for i := 0; i < n; i++ {
		ppn := f.cursor
		f.cursor++
		f.live[ppn] = true
		f.refcnt[ppn] = 1
		out[i] = ppn
	}
	for _, ppn := range out {
		f.zero(ppn)
	}
	return out, true
}

// Refup increments the sharing refcount of ppn, used when a CoW segment is
// cloned into a child address space.
func (f *FrameAllocator) Refup(ppn PPN) {
	f.Lock()
	defer f.Unlock()
	if !f.live[ppn] {
		klog.Fatal("mem: refup of unallocated frame %#x", ppn)
	}
	f.refcnt[ppn]++
}

// Refcnt reports the current sharing refcount of ppn (1 if exclusively
// owned).
func (f *FrameAllocator) Refcnt(ppn PPN) int {
	f.Lock()
	defer f.Unlock()
	return int(f.refcnt[ppn])
}

// Refdown decrements ppn's refcount, returning it to the free list and
// returning true once the last reference is dropped.
func (f *FrameAllocator) Refdown(ppn PPN) bool {
	f.Lock()
	defer f.Unlock()
	if !f.live[ppn] {
		klog.Fatal("mem: refdown of unallocated frame %#x", ppn)
	}
	c := f.refcnt[ppn]
	if c == 0 {
		klog.Fatal("mem: refcount underflow on frame %#x", ppn)
	}
	c--
	f.refcnt[ppn] = c
	if c == 0 {
		delete(f.refcnt, ppn)
		delete(f.live, ppn)
		f.free = append(f.free, ppn)
		return true
	}
	return false
}

// Free releases ppn unconditionally (refcount must already be 1). Freeing
// a never-allocated frame or double-freeing is a fatal invariant
// violation, per spec §4.1.
func (f *FrameAllocator) Free(ppn PPN) {
	f.Lock()
	defer f.Unlock()
	if !f.live[ppn] {
		klog.Fatal("mem: double free or free of unallocated frame %#x", ppn)
	}
	if f.refcnt[ppn] > 1 {
		klog.Fatal("mem: Free called on shared frame %#x (refcnt %d)", ppn, f.refcnt[ppn])
	}
	delete(f.refcnt, ppn)
	delete(f.live, ppn)
	f.free = append(f.free, ppn)
}

// Dmap exposes the underlying physical memory for reading/writing a
// frame's contents, mirroring biscuit's Physmem_t.Dmap.
func (f *FrameAllocator) Dmap(ppn PPN) *Frame {
	return f.phys.Dmap(ppn)
}
