package mem

import (
	"rv39kernel/internal/irqlock"
	"rv39kernel/internal/klog"
)

// heapAlign is the minimum allocation granularity of the bitmap heap.
const heapAlign = 16

// Heap serves kernel dynamic allocation from a fixed-size arena, per spec
// §4.2. biscuit leaves the inner algorithm pluggable behind an
// {empty,init,alloc,dealloc} interface and ships a bitmap allocator as the
// default; this keeps that shape as the Allocator interface with
// BitmapHeap as the reference implementation. Allocation is serialized by
// an irqlock.Mutex so a timer trap cannot reenter the allocator mid
// critical section, per spec §4.2 and §5.
type Allocator interface {
	Init(size int)
	Alloc(size int) ([]byte, bool)
	Dealloc(b []byte)
}

// BitmapHeap is a first-fit bitmap allocator over a fixed byte arena.
type BitmapHeap struct {
	irqlock.Mutex
	arena []byte
	// used[i] marks arena unit i (heapAlign bytes) as allocated.
	used []bool
	// sizeOf records the allocation length keyed by its starting unit, so
	// Dealloc can clear the right run without the caller tracking it.
	sizeOf map[int]int
}

// NewBitmapHeap allocates a size-byte arena in the Go heap (standing in
// for the teacher's fixed .bss region, since this module runs hosted) and
// returns an initialized BitmapHeap.
func NewBitmapHeap(size int) *BitmapHeap {
	h := &BitmapHeap{}
	h.Init(size)
	return h
}

// Init (re)initializes the heap over a size-byte arena, marking everything
// free, matching the teacher's empty()+init(base,size) pair collapsed into
// one call since this model owns its own backing array.
func (h *BitmapHeap) Init(size int) {
	h.Lock()
	defer h.Unlock()
	units := (size + heapAlign - 1) / heapAlign
	h.arena = make([]byte, units*heapAlign)
	h.used = make([]bool, units)
	h.sizeOf = make(map[int]int)
}

// Alloc returns a size-byte slice backed by the arena, or (nil, false) if
// no run of free units is large enough.
func (h *BitmapHeap) Alloc(size int) ([]byte, bool) {
	if size <= 0 {
		klog.Fatal("mem: heap alloc of non-positive size")
	}
	h.Lock()
	defer h.Unlock()
	need := (size + heapAlign - 1) / heapAlign
	run := 0
	start := -1
	for i := 0; i < len(h.used); i++ {
		if h.used[i] {
			run = 0
			start = -1
			continue
		}
		if start == -1 {
			start = i
		}
		run++
		if run == need {
			for j := start; j < start+need; j++ {
				h.used[j] = true
			}
			h.sizeOf[start] = size
			off := start * heapAlign
			return h.arena[off : off+size : off+size], true
		}
	}
	return nil, false
}

// Dealloc releases a slice previously returned by Alloc. It panics
// (aborting the kernel, per spec §4.2's "out-of-memory aborts the kernel"
// sibling invariant) if b was not allocated from this heap.
func (h *BitmapHeap) Dealloc(b []byte) {
	if len(b) == 0 {
		return
	}
	h.Lock()
	defer h.Unlock()
	base := &h.arena[0]
	off := int(uintptrOf(&b[0]) - uintptrOf(base))
	if off < 0 || off%heapAlign != 0 || off/heapAlign >= len(h.used) {
		klog.Fatal("mem: Dealloc of foreign pointer")
	}
	start := off / heapAlign
	size, ok := h.sizeOf[start]
	if !ok {
		klog.Fatal("mem: double free on kernel heap")
	}
	units := (size + heapAlign - 1) / heapAlign
	for j := start; j < start+units; j++ {
		h.used[j] = false
	}
	delete(h.sizeOf, start)
}
