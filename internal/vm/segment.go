package vm

import (
	"rv39kernel/internal/klog"
	"rv39kernel/internal/mem"
)

// MapType selects how a Segment's VPNs are backed, per spec §3.
type MapType int

const (
	Identical MapType = iota // ppn == vpn, used for the kernel image
	Framed                   // each VPN owns (or shares) a distinct frame
)

// Segment is a contiguous VPN range with homogeneous permissions and one
// backing policy, grounded on biscuit's Vmregion_t/Vminfo_t (generalized
// here to spec.md's {Identical,Framed} pair only — no file-backed mmap is
// in scope).
type Segment struct {
	Start, End mem.VPN
	Type       MapType
	Perms      Flag
	// Frames holds the VPN->PPN mapping for Framed segments only. Per
	// spec §4.4's invariant, every mapped VPN in range appears here iff
	// eagerly mapped; lazy segments populate entries on demand.
	Frames map[mem.VPN]mem.PPN
}

// NewSegment constructs an unmapped segment over [start, end).
func NewSegment(start, end mem.VPN, t MapType, perms Flag) *Segment {
	if end <= start {
		klog.Fatal("vm: empty segment range")
	}
	s := &Segment{Start: start, End: end, Type: t, Perms: perms}
	if t == Framed {
		s.Frames = make(map[mem.VPN]mem.PPN)
	}
	return s
}

// Contains reports whether vpn falls within this segment.
func (s *Segment) Contains(vpn mem.VPN) bool {
	return vpn >= s.Start && vpn < s.End
}

func (s *Segment) leafFlags() Flag {
	return s.Perms | FlagU
}

// Map eagerly backs every VPN in range and installs the mapping. Identity
// segments synthesize ppn=vpn (used only for the kernel's own image and
// its free-frame window); Framed segments allocate a fresh frame per VPN.
func (s *Segment) Map(pt *PageTable, frames *mem.FrameAllocator) {
	for vpn := s.Start; vpn < s.End; vpn++ {
		s.allocOne(pt, frames, vpn)
	}
}

func (s *Segment) allocOne(pt *PageTable, frames *mem.FrameAllocator, vpn mem.VPN) {
	switch s.Type {
	case Identical:
		pt.Map(vpn, mem.PPN(vpn), s.leafFlags())
	case Framed:
		ppn, ok := frames.Alloc()
		if !ok {
			klog.Fatal("vm: out of frames mapping segment")
		}
		s.Frames[vpn] = ppn
		pt.Map(vpn, ppn, s.leafFlags())
	default:
		klog.Fatal("vm: unknown segment map type")
	}
}

// AllocOne lazily maps a single VPN on demand (demand paging), per spec
// §4.4.
func (s *Segment) AllocOne(pt *PageTable, frames *mem.FrameAllocator, vpn mem.VPN) {
	if !s.Contains(vpn) {
		klog.Fatal("vm: AllocOne outside segment range")
	}
	s.allocOne(pt, frames, vpn)
}

// DeallocOne is the inverse of AllocOne/allocOne for a single VPN.
func (s *Segment) DeallocOne(pt *PageTable, frames *mem.FrameAllocator, vpn mem.VPN) {
	pt.Unmap(vpn)
	if s.Type == Framed {
		if ppn, ok := s.Frames[vpn]; ok {
			frames.Refdown(ppn)
			delete(s.Frames, vpn)
		}
	}
}

// Unmap releases every currently mapped VPN in the segment.
func (s *Segment) Unmap(pt *PageTable, frames *mem.FrameAllocator) {
	for vpn := s.Start; vpn < s.End; vpn++ {
		if pte, ok := pt.Translate(vpn); ok {
			_ = pte
			s.DeallocOne(pt, frames, vpn)
		}
	}
}

// ReallocOne implements the copy-on-write fixup: allocate a fresh frame,
// copy the old page's contents into it, and relink the PTE with full
// write permission. Used when a store faults on a page shared read-only
// across a CoW family (spec §4.4, §4.5).
func (s *Segment) ReallocOne(pt *PageTable, frames *mem.FrameAllocator, vpn mem.VPN) {
	if s.Type != Framed {
		klog.Fatal("vm: ReallocOne on non-framed segment")
	}
	oldPPN, ok := s.Frames[vpn]
	if !ok {
		klog.Fatal("vm: ReallocOne of unmapped vpn")
	}
	newPPN, ok := frames.AllocNoZero()
	if !ok {
		klog.Fatal("vm: out of frames during CoW fixup")
	}
	*frames.Dmap(newPPN) = *frames.Dmap(oldPPN)
	frames.Refdown(oldPPN)
	s.Frames[vpn] = newPPN
	pt.Relink(vpn, newPPN, s.leafFlags())
}

// FromAnother clones this segment into a child address space's page
// table, sharing Framed frames (bumping their refcounts) rather than
// copying them. If cow is true, write permission is stripped from both
// the parent's and child's PTEs so the first store by either side
// triggers ReallocOne, per spec §4.5 fork semantics.
func (s *Segment) FromAnother(parentPT, childPT *PageTable, frames *mem.FrameAllocator, cow bool) *Segment {
	child := &Segment{Start: s.Start, End: s.End, Type: s.Type, Perms: s.Perms}
	if s.Type != Framed {
		child.Map(childPT, frames)
		return child
	}
	child.Frames = make(map[mem.VPN]mem.PPN, len(s.Frames))
	perms := s.leafFlags()
	if cow && s.Perms&FlagW != 0 {
		perms = (perms &^ FlagW) | FlagCOW
		// strip write from the parent's existing mapping too, so a
		// subsequent parent store also triggers the CoW fixup.
		for vpn := range s.Frames {
			if pte, ok := parentPT.Translate(vpn); ok {
				parentPT.Relink(vpn, pte.ppn(), perms)
			}
		}
	}
	for vpn, ppn := range s.Frames {
		frames.Refup(ppn)
		child.Frames[vpn] = ppn
		childPT.Map(vpn, ppn, perms)
	}
	return child
}

// CopyData writes data into the segment starting at its first page,
// page-aligned, used to initialize ELF segment contents. Any bytes beyond
// len(data) up to the segment's mapped size remain zero because fresh
// frames are zero-filled by the allocator.
func (s *Segment) CopyData(pt *PageTable, frames *mem.FrameAllocator, data []byte) {
	off := 0
	for vpn := s.Start; off < len(data) && vpn < s.End; vpn++ {
		ppn, ok := s.Frames[vpn]
		if !ok {
			klog.Fatal("vm: CopyData onto unmapped vpn")
		}
		fr := frames.Dmap(ppn)
		n := copy(fr[:], data[off:])
		off += n
	}
	if off < len(data) {
		klog.Fatal("vm: CopyData overruns segment")
	}
}
