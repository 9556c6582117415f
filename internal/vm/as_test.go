package vm

import (
	"encoding/binary"
	"testing"

	"rv39kernel/internal/mem"
)

func freshAS(n int) (*AddressSpace, *mem.FrameAllocator) {
	fa := freshFrames(n)
	tramp, _ := fa.Alloc()
	return newBareAS(fa, tramp), fa
}

func buildMinimalELF(entry uint64, loadVA uint64, data []byte) []byte {
	const ehsz = 64
	const phsz = 56
	buf := make([]byte, ehsz+phsz+len(data))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	binary.LittleEndian.PutUint64(buf[24:], entry)
	binary.LittleEndian.PutUint64(buf[32:], ehsz) // phoff
	binary.LittleEndian.PutUint16(buf[54:], phsz)
	binary.LittleEndian.PutUint16(buf[56:], 1) // phnum
	ph := buf[ehsz:]
	binary.LittleEndian.PutUint32(ph[0:], 1)              // PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:], 7)              // RWX
	binary.LittleEndian.PutUint64(ph[8:], ehsz+phsz)       // offset
	binary.LittleEndian.PutUint64(ph[16:], loadVA)         // vaddr
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(data))) // filesz
	binary.LittleEndian.PutUint64(ph[40:], uint64(len(data))) // memsz
	copy(buf[ehsz+phsz:], data)
	return buf
}

func TestFromELFMapsLoadSegmentAndStack(t *testing.T) {
	fa := freshFrames(4096)
	tramp, _ := fa.Alloc()
	payload := []byte{1, 2, 3, 4}
	img := buildMinimalELF(0x1000, 0x1000, payload)

	as, stackTop, entry, err := FromELF(fa, tramp, img)
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	if entry != 0x1000 {
		t.Fatalf("expected entry 0x1000, got %#x", entry)
	}
	if stackTop == 0 {
		t.Fatal("expected nonzero stack top")
	}
	seg, ok := as.Lookup(mem.VA(0x1000).VPN())
	if !ok {
		t.Fatal("expected load segment to be mapped")
	}
	ppn := seg.Frames[mem.VA(0x1000).VPN()]
	fr := fa.Dmap(ppn)
	if fr[0] != 1 || fr[1] != 2 || fr[2] != 3 || fr[3] != 4 {
		t.Fatal("expected file content copied into the mapped frame")
	}
	if as.StackSegment() == nil {
		t.Fatal("expected a stack segment")
	}
}

func TestFromForkSharesFramesCOW(t *testing.T) {
	fa := freshFrames(4096)
	payload := make([]byte, 16)
	img := buildMinimalELF(0x1000, 0x1000, payload)
	tramp, _ := fa.Alloc()
	parent, _, _, err := FromELF(fa, tramp, img)
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	child := FromFork(parent, fa)
	seg, _ := parent.Lookup(mem.VA(0x1000).VPN())
	childSeg, ok := child.Lookup(mem.VA(0x1000).VPN())
	if !ok {
		t.Fatal("expected child to have a corresponding segment")
	}
	ppn := seg.Frames[mem.VA(0x1000).VPN()]
	childPPN := childSeg.Frames[mem.VA(0x1000).VPN()]
	if ppn != childPPN {
		t.Fatal("expected CoW fork to share the same physical frame")
	}
	if fa.Refcnt(ppn) != 2 {
		t.Fatalf("expected refcnt 2 after fork, got %d", fa.Refcnt(ppn))
	}
}

func TestSbrkGrowAndShrink(t *testing.T) {
	as, fa := freshAS(256)
	base := mem.VA(0x2000)
	brk, err := as.Sbrk(base, 4096)
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	if brk != base+4096 {
		t.Fatalf("expected brk %#x, got %#x", base+4096, brk)
	}
	if err := as.HandleFault(base, FlagR|FlagW); err != 0 {
		t.Fatalf("expected demand-paged heap page, got %v", err)
	}
	before := fa.FreeCount()
	if _, err := as.Sbrk(base, -4096); err != 0 {
		t.Fatalf("unexpected shrink error %v", err)
	}
	if fa.FreeCount() != before+1 {
		t.Fatal("expected shrink to release the heap frame")
	}
}

func TestHandleFaultOutsideAnySegmentIsFatal(t *testing.T) {
	as, _ := freshAS(64)
	if err := as.HandleFault(0x99999000, FlagR); err == 0 {
		t.Fatal("expected EFAULT for an address not covered by any segment")
	}
}

func TestPushCRT0LaysOutArgvEnvp(t *testing.T) {
	as, fa := freshAS(64)
	stackStart := mem.VPN(10)
	stackEnd := mem.VPN(20)
	stack := NewSegment(stackStart, stackEnd, Framed, FlagR|FlagW)
	stack.Map(as.PT, fa)
	as.insert(stack)
	stackTop := stackEnd.Addr()

	sp := as.PushCRT0(stack, stackTop, []string{"init", "-v"}, []string{"HOME=/"})
	if sp == 0 || sp >= stackTop {
		t.Fatalf("expected sp within stack bounds, got %#x", sp)
	}
	if uint64(sp)%16 != 0 {
		t.Fatalf("expected 16-byte aligned sp, got %#x", sp)
	}
}
