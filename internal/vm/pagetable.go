package vm

import (
	"unsafe"

	"rv39kernel/internal/irqlock"
	"rv39kernel/internal/klog"
	"rv39kernel/internal/mem"
)

const (
	entriesPerLevel = 512
	bitsPerLevel    = 9
	levelMask       = entriesPerLevel - 1
	satpModeSv39    = uint64(8) << 60
)

// pteView reinterprets a physical frame as 512 raw page-table entries,
// mirroring the teacher's pg2pmap cast of a Pg_t to a Pmap_t.
func pteView(fr *mem.Frame) *[entriesPerLevel]PTE {
	return (*[entriesPerLevel]PTE)(unsafe.Pointer(fr))
}

func vpnIndex(vpn mem.VPN, level int) int {
	return int((uint64(vpn) >> (bitsPerLevel * level)) & levelMask)
}

// PageTable is an Sv39 three-level walker identified by its root PPN. It
// owns the interior (non-leaf) frames of its directory and frees them on
// Drop; it never owns the leaf data frames a mapping points at — those
// belong to a Segment, per spec §4.3.
type PageTable struct {
	irqlock.Mutex
	frames   *mem.FrameAllocator
	root     mem.PPN
	interior []mem.PPN
	freed    bool
}

// NewPageTable allocates a fresh, empty root directory.
func NewPageTable(frames *mem.FrameAllocator) *PageTable {
	root, ok := frames.Alloc()
	if !ok {
		klog.Fatal("vm: out of frames allocating page table root")
	}
	return &PageTable{frames: frames, root: root, interior: []mem.PPN{root}}
}

// Root returns the root PPN, e.g. for building satp.
func (pt *PageTable) Root() mem.PPN { return pt.root }

// Token returns the Sv39 satp value (mode=8, root PPN in the low 44 bits).
func (pt *PageTable) Token() uint64 {
	return satpModeSv39 | uint64(pt.root)
}

// walk descends to the leaf-level PTE slot for vpn, allocating interior
// frames on the way down when alloc is true. It returns nil if an
// interior level is missing and alloc is false.
func (pt *PageTable) walk(vpn mem.VPN, alloc bool) *PTE {
	cur := pt.root
	for level := 2; level >= 1; level-- {
		tbl := pteView(pt.frames.Dmap(cur))
		idx := vpnIndex(vpn, level)
		e := &tbl[idx]
		if !e.valid() {
			if !alloc {
				return nil
			}
			np, ok := pt.frames.Alloc()
			if !ok {
				klog.Fatal("vm: out of frames extending page table")
			}
			pt.interior = append(pt.interior, np)
			*e = mkPTE(np, FlagV)
		} else if e.leaf() {
			klog.Fatal("vm: interior PTE unexpectedly a leaf")
		}
		cur = e.ppn()
	}
	tbl := pteView(pt.frames.Dmap(cur))
	idx := vpnIndex(vpn, 0)
	return &tbl[idx]
}

// Map installs a fresh leaf mapping vpn -> ppn with the given flags
// (FlagV is added automatically). It is fatal if vpn is already mapped,
// per spec §4.3.
func (pt *PageTable) Map(vpn mem.VPN, ppn mem.PPN, flags Flag) {
	pt.Lock()
	defer pt.Unlock()
	e := pt.walk(vpn, true)
	if e.valid() {
		klog.Fatal("vm: Map of already-valid vpn %#x", vpn)
	}
	*e = mkPTE(ppn, flags|FlagV)
}

// Unmap clears the leaf mapping for vpn. It is fatal if vpn was not
// mapped.
func (pt *PageTable) Unmap(vpn mem.VPN) {
	pt.Lock()
	defer pt.Unlock()
	e := pt.walk(vpn, false)
	if e == nil || !e.valid() {
		klog.Fatal("vm: Unmap of unmapped vpn %#x", vpn)
	}
	*e = 0
}

// Relink replaces an existing leaf mapping's target and flags, used for
// CoW realloc and permission changes. It is fatal if vpn was not already
// mapped.
func (pt *PageTable) Relink(vpn mem.VPN, ppn mem.PPN, flags Flag) {
	pt.Lock()
	defer pt.Unlock()
	e := pt.walk(vpn, false)
	if e == nil || !e.valid() {
		klog.Fatal("vm: Relink of unmapped vpn %#x", vpn)
	}
	*e = mkPTE(ppn, flags|FlagV)
}

// Translate performs a read-only walk, returning the leaf PTE and true if
// every interior level (and the leaf) is valid.
func (pt *PageTable) Translate(vpn mem.VPN) (PTE, bool) {
	pt.Lock()
	defer pt.Unlock()
	e := pt.walk(vpn, false)
	if e == nil || !e.valid() {
		return 0, false
	}
	return *e, true
}

// TranslateVA resolves a full virtual address to its physical address,
// honoring the page offset.
func (pt *PageTable) TranslateVA(va mem.VA) (mem.PA, bool) {
	pte, ok := pt.Translate(va.VPN())
	if !ok {
		return 0, false
	}
	off := mem.Offset(uint64(va))
	return mem.PA(uint64(pte.ppn())<<mem.PageShift | off), true
}

// Drop frees every interior frame the page table owns. It does not touch
// leaf data frames — those are owned by Segments and released
// independently.
func (pt *PageTable) Drop() {
	pt.Lock()
	defer pt.Unlock()
	if pt.freed {
		klog.Fatal("vm: double free of page table")
	}
	for _, ppn := range pt.interior {
		pt.frames.Free(ppn)
	}
	pt.interior = nil
	pt.freed = true
}
