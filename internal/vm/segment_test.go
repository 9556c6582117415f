package vm

import (
	"testing"

	"rv39kernel/internal/mem"
)

func TestSegmentMapIdentical(t *testing.T) {
	fa := freshFrames(16)
	pt := NewPageTable(fa)
	defer pt.Drop()
	seg := NewSegment(2, 5, Identical, FlagR|FlagW)
	seg.Map(pt, fa)
	pte, ok := pt.Translate(3)
	if !ok || pte.ppn() != mem.PPN(3) {
		t.Fatal("identical segment must map ppn == vpn")
	}
}

func TestSegmentFramedDemandPaging(t *testing.T) {
	fa := freshFrames(16)
	pt := NewPageTable(fa)
	defer pt.Drop()
	seg := NewSegment(2, 5, Framed, FlagR|FlagW)
	if _, ok := pt.Translate(3); ok {
		t.Fatal("lazy segment must start unmapped")
	}
	seg.AllocOne(pt, fa, 3)
	if _, ok := pt.Translate(3); !ok {
		t.Fatal("AllocOne must map the page")
	}
}

func TestCoWWritePreservation(t *testing.T) {
	// Testable property 3: a store by one side of a CoW family must not
	// be observed by the other side.
	fa := freshFrames(32)
	parentPT := NewPageTable(fa)
	childPT := NewPageTable(fa)
	defer parentPT.Drop()
	defer childPT.Drop()

	seg := NewSegment(10, 11, Framed, FlagR|FlagW)
	seg.Map(parentPT, fa)
	ppn := seg.Frames[10]
	fr := fa.Dmap(ppn)
	fr[0] = 42

	child := seg.FromAnother(parentPT, childPT, fa, true)
	if fa.Refcnt(ppn) != 2 {
		t.Fatalf("expected shared refcnt 2, got %d", fa.Refcnt(ppn))
	}

	// child writes 7 to its copy
	child.ReallocOne(childPT, fa, 10)
	childPPN := child.Frames[10]
	fa.Dmap(childPPN)[0] = 7

	// parent's original page must be unaffected
	parentPTE, _ := parentPT.Translate(10)
	parentFr := fa.Dmap(parentPTE.ppn())
	if parentFr[0] != 42 {
		t.Fatalf("parent page was mutated by child's CoW write: got %d", parentFr[0])
	}
}

func TestSegmentUnmapReleasesFrames(t *testing.T) {
	fa := freshFrames(16)
	pt := NewPageTable(fa)
	defer pt.Drop()
	seg := NewSegment(0, 3, Framed, FlagR|FlagW)
	seg.Map(pt, fa)
	before := fa.FreeCount()
	seg.Unmap(pt, fa)
	after := fa.FreeCount()
	if after != before+3 {
		t.Fatalf("expected 3 frames released, got delta %d", after-before)
	}
}
