package proc

import (
	"encoding/binary"
	"testing"

	"rv39kernel/internal/mem"
	"rv39kernel/internal/sched"
)

func freshFrames(n int) *mem.FrameAllocator {
	phys := mem.NewPhysMem(0, n)
	return mem.NewFrameAllocator(phys, 0, mem.PPN(n))
}

func buildMinimalELF(entry uint64, loadVA uint64, data []byte) []byte {
	const ehsz = 64
	const phsz = 56
	buf := make([]byte, ehsz+phsz+len(data))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	binary.LittleEndian.PutUint64(buf[24:], entry)
	binary.LittleEndian.PutUint64(buf[32:], ehsz)
	binary.LittleEndian.PutUint16(buf[54:], phsz)
	binary.LittleEndian.PutUint16(buf[56:], 1)
	ph := buf[ehsz:]
	binary.LittleEndian.PutUint32(ph[0:], 1)
	binary.LittleEndian.PutUint32(ph[4:], 7)
	binary.LittleEndian.PutUint64(ph[8:], ehsz+phsz)
	binary.LittleEndian.PutUint64(ph[16:], loadVA)
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(data)))
	binary.LittleEndian.PutUint64(ph[40:], uint64(len(data)))
	copy(buf[ehsz+phsz:], data)
	return buf
}

func TestForkCreatesChildWithZeroReturn(t *testing.T) {
	fa := freshFrames(4096)
	tramp, _ := fa.Alloc()
	pt := NewProcTable(sched.New(sched.NewFIFO()))
	img := buildMinimalELF(0x1000, 0x1000, make([]byte, 16))
	parent, err := pt.Spawn(fa, tramp, 0x8000000000000000, img, []string{"init"}, 4096, 0x9000)
	if err != 0 {
		t.Fatalf("spawn failed: %v", err)
	}
	parent.TCBs[0].TrapContext().X[10] = 42

	child, err := pt.Fork(parent, fa, 4096)
	if err != 0 {
		t.Fatalf("fork failed: %v", err)
	}
	if len(parent.Children) != 1 || parent.Children[0] != child {
		t.Fatal("expected child registered in parent.Children")
	}
	if child.Parent != parent {
		t.Fatal("expected child.Parent set")
	}
	if child.TCBs[0].TrapContext().X[10] != 0 {
		t.Fatal("expected child's a0 to be zeroed")
	}
	if child.PID == parent.PID {
		t.Fatal("expected distinct pids")
	}
}

func TestWaitReturnsECHILDWithNoChildren(t *testing.T) {
	fa := freshFrames(4096)
	tramp, _ := fa.Alloc()
	pt := NewProcTable(sched.New(sched.NewFIFO()))
	img := buildMinimalELF(0x1000, 0x1000, make([]byte, 16))
	parent, _ := pt.Spawn(fa, tramp, 0, img, []string{"init"}, 4096, 0)

	if _, _, err := pt.Wait(parent, -1); err == 0 {
		t.Fatal("expected ECHILD with no children")
	}
}

func TestWaitReturnsEAGAINBeforeExit(t *testing.T) {
	fa := freshFrames(4096)
	tramp, _ := fa.Alloc()
	pt := NewProcTable(sched.New(sched.NewFIFO()))
	img := buildMinimalELF(0x1000, 0x1000, make([]byte, 16))
	parent, _ := pt.Spawn(fa, tramp, 0, img, []string{"init"}, 4096, 0)
	child, _ := pt.Fork(parent, fa, 4096)
	_ = child

	if _, _, err := pt.Wait(parent, -1); err == 0 {
		t.Fatal("expected EAGAIN before the child has exited")
	}
}

func TestExitThenWaitReapsChild(t *testing.T) {
	fa := freshFrames(4096)
	tramp, _ := fa.Alloc()
	pt := NewProcTable(sched.New(sched.NewFIFO()))
	img := buildMinimalELF(0x1000, 0x1000, make([]byte, 16))
	parent, _ := pt.Spawn(fa, tramp, 0, img, []string{"init"}, 4096, 0)
	pt.Init = parent
	child, _ := pt.Fork(parent, fa, 4096)

	pt.Exit(child, 7)
	pid, code, err := pt.Wait(parent, -1)
	if err != 0 {
		t.Fatalf("unexpected error %v", err)
	}
	if pid != child.PID || code != 7 {
		t.Fatalf("expected (%d,7), got (%d,%d)", child.PID, pid, code)
	}
	if len(parent.Children) != 0 {
		t.Fatal("expected child removed from parent.Children after reap")
	}
}

func TestFdTableDupAndClose(t *testing.T) {
	r, w := NewPipe(64)
	tab := NewTable()
	rn := tab.Install(&Fd{Fops: r, Perms: FDRead})
	wn := tab.Install(&Fd{Fops: w, Perms: FDWrite})

	dn, err := tab.Dup(wn)
	if err != 0 {
		t.Fatalf("dup failed: %v", err)
	}
	if dn == wn {
		t.Fatal("expected a distinct descriptor number from dup")
	}
	if err := tab.Close(rn); err != 0 {
		t.Fatalf("close failed: %v", err)
	}
	if _, ok := tab.Get(rn); ok {
		t.Fatal("expected descriptor to be gone after close")
	}
}

func TestPipeByteForByte(t *testing.T) {
	r, w := NewPipe(256)
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	done := make(chan struct{})
	go func() {
		w.Write(payload)
		w.Close()
		close(done)
	}()

	got := make([]byte, 0, 256)
	buf := make([]byte, 32)
	for {
		n, _ := r.Read(buf)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	<-done
	if len(got) != 256 {
		t.Fatalf("expected 256 bytes, got %d", len(got))
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("byte %d: expected %d, got %d", i, byte(i), b)
		}
	}
}
