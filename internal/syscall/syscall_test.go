package syscall

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rv39kernel/internal/blockdev"
	"rv39kernel/internal/devno"
	"rv39kernel/internal/ext2"
	"rv39kernel/internal/mem"
	"rv39kernel/internal/proc"
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

// harness bundles a single spawned process with a filesystem and
// dispatcher wired together the way cmd/kernel would.
type harness struct {
	t       *testing.T
	d       *Dispatcher
	pt      *proc.ProcTable
	p       *proc.PCB
	scratch mem.VA // a writable user VA good for staging syscall args
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fa := freshFrames(8192)
	tramp, _ := fa.Alloc()
	s := sched.New(sched.NewFIFO())
	pt := proc.NewProcTable(s)
	img := buildMinimalELF(0x1000, 0x1000, make([]byte, 16))
	p, err := pt.Spawn(fa, tramp, 0x8000000000000000, img, []string{"init"}, 4096, 0x9000)
	require.Zero(t, int(err))

	dev := blockdev.NewRam(4096)
	layout, ferr := ext2.Format(dev)
	require.Zero(t, int(ferr))
	fs := ext2.NewExt2(layout)
	require.Zero(t, int(fs.CreateDevice("/dev_null", devno.Mkdev(devno.Null, 0))))

	s.AddReady(p.TCBs[0])
	s.RunApp()

	stack := p.AS.StackSegment()
	require.NotNil(t, stack)

	return &harness{
		t:  t,
		pt: pt,
		p:  p,
		d: &Dispatcher{
			Procs:         pt,
			Sched:         s,
			FS:            fs,
			Frames:        fa,
			TrampolinePPN: tramp,
			KernelSatp:    0x8000000000000000,
			TrapHandler:   0x9000,
			KStackSize:    4096,
			Devices: map[uint64]proc.Fops{
				devno.Mkdev(devno.Null, 0): proc.NewNullDevice(),
			},
		},
		scratch: stack.Start.Addr(),
	}
}

func (h *harness) writeString(s string) mem.VA {
	h.t.Helper()
	require.Zero(h.t, int(h.p.AS.CopyOut(h.scratch, append([]byte(s), 0))))
	return h.scratch
}

func TestGetpidReturnsOwnPID(t *testing.T) {
	h := newHarness(t)
	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Getpid, 0, 0, 0, 0, 0, 0)
	require.EqualValues(t, h.p.PID, ret)
}

func TestOpenatCreateWriteReadRoundtrip(t *testing.T) {
	h := newHarness(t)
	pathVA := h.writeString("/greeting")

	fd := h.d.dispatch(h.p, h.p.TCBs[0], nil, Openat, 0, uint64(pathVA), oCreat, 0, 0, 0)
	require.GreaterOrEqual(t, fd, int64(0))

	payloadVA := mem.VA(uint64(h.scratch) + 512)
	payload := []byte("hello from a syscall test")
	require.Zero(t, int(h.p.AS.CopyOut(payloadVA, payload)))

	n := h.d.dispatch(h.p, h.p.TCBs[0], nil, Write, uint64(fd), uint64(payloadVA), uint64(len(payload)), 0, 0, 0)
	require.EqualValues(t, len(payload), n)

	off := h.d.dispatch(h.p, h.p.TCBs[0], nil, Lseek, uint64(fd), 0, 0 /*SEEK_SET*/, 0, 0, 0)
	require.EqualValues(t, 0, off)

	readBackVA := mem.VA(uint64(h.scratch) + 1024)
	got := h.d.dispatch(h.p, h.p.TCBs[0], nil, Read, uint64(fd), uint64(readBackVA), uint64(len(payload)), 0, 0, 0)
	require.EqualValues(t, len(payload), got)

	readBack, err := h.p.AS.CopyIn(readBackVA, len(payload))
	require.Zero(t, int(err))
	require.Equal(t, payload, readBack)
}

func TestMkdiratThenUnlinkat(t *testing.T) {
	h := newHarness(t)
	pathVA := h.writeString("/sub")

	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Mkdirat, 0, uint64(pathVA), 0, 0, 0, 0)
	require.Zero(t, int(ret))
	require.True(t, h.d.FS.Exists("/sub"))

	ret = h.d.dispatch(h.p, h.p.TCBs[0], nil, Unlinkat, 0, uint64(pathVA), atRemoveDir, 0, 0, 0)
	require.Zero(t, int(ret))
	require.False(t, h.d.FS.Exists("/sub"))
}

func TestChdirRejectsNonDirectory(t *testing.T) {
	h := newHarness(t)
	require.Zero(t, int(h.d.FS.CreateFile("/plain")))
	pathVA := h.writeString("/plain")

	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Chdir, uint64(pathVA), 0, 0, 0, 0, 0)
	require.EqualValues(t, 20 /* ENOTDIR */, -ret)
}

func TestChdirUpdatesCwd(t *testing.T) {
	h := newHarness(t)
	require.Zero(t, int(h.d.FS.CreateDir("/home")))
	pathVA := h.writeString("/home")

	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Chdir, uint64(pathVA), 0, 0, 0, 0, 0)
	require.Zero(t, int(ret))
	require.Equal(t, "/home", h.p.Cwd.Get())
}

func TestPipe2InstallsReadWriteEnds(t *testing.T) {
	h := newHarness(t)
	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Pipe2, uint64(h.scratch), 0, 0, 0, 0, 0)
	require.Zero(t, int(ret))

	raw, err := h.p.AS.CopyIn(h.scratch, 8)
	require.Zero(t, int(err))
	rfd := binary.LittleEndian.Uint32(raw[0:])
	wfd := binary.LittleEndian.Uint32(raw[4:])
	require.NotEqual(t, rfd, wfd)

	_, ok := h.p.Fds.Get(int(rfd))
	require.True(t, ok)
	_, ok = h.p.Fds.Get(int(wfd))
	require.True(t, ok)
}

func TestKillSetsPending(t *testing.T) {
	h := newHarness(t)
	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Kill, uint64(h.p.PID), 9, 0, 0, 0, 0)
	require.Zero(t, int(ret))
}

func TestKillUnknownPidReturnsESRCH(t *testing.T) {
	h := newHarness(t)
	ret := h.d.dispatch(h.p, h.p.TCBs[0], nil, Kill, 999999, 9, 0, 0, 0, 0)
	require.EqualValues(t, 3 /* ESRCH */, -ret)
}

func TestSbrkGrowsHeapMonotonically(t *testing.T) {
	h := newHarness(t)
	h.d.HeapBase = mem.VA(0x2000)
	first := h.d.dispatch(h.p, h.p.TCBs[0], nil, Sbrk, 0, 0, 0, 0, 0, 0)
	grown := h.d.dispatch(h.p, h.p.TCBs[0], nil, Sbrk, uint64(mem.PageSize), 0, 0, 0, 0, 0)
	require.Greater(t, grown, first)
}

func TestUnknownSyscallPanics(t *testing.T) {
	h := newHarness(t)
	require.Panics(t, func() {
		h.d.dispatch(h.p, h.p.TCBs[0], nil, 999999, 0, 0, 0, 0, 0, 0)
	})
}

func TestOpenatOnDeviceFileInstallsDeviceFops(t *testing.T) {
	h := newHarness(t)
	pathVA := h.writeString("/dev_null")

	fd := h.d.dispatch(h.p, h.p.TCBs[0], nil, Openat, 0, uint64(pathVA), 0, 0, 0, 0)
	require.GreaterOrEqual(t, fd, int64(0))

	payloadVA := mem.VA(uint64(h.scratch) + 512)
	require.Zero(t, int(h.p.AS.CopyOut(payloadVA, []byte("discarded"))))
	n := h.d.dispatch(h.p, h.p.TCBs[0], nil, Write, uint64(fd), uint64(payloadVA), 9, 0, 0, 0)
	require.EqualValues(t, 9, n)

	got := h.d.dispatch(h.p, h.p.TCBs[0], nil, Read, uint64(fd), uint64(payloadVA), 9, 0, 0, 0)
	require.EqualValues(t, 0, got) // /dev/null always reads EOF
}

func TestOpenatOnUnregisteredDeviceReturnsENXIO(t *testing.T) {
	h := newHarness(t)
	require.Zero(t, int(h.d.FS.CreateDevice("/dev_tty", devno.Mkdev(devno.Console, 1))))
	pathVA := h.writeString("/dev_tty")

	fd := h.d.dispatch(h.p, h.p.TCBs[0], nil, Openat, 0, uint64(pathVA), 0, 0, 0, 0)
	require.EqualValues(t, 6 /* ENXIO */, -fd)
}
