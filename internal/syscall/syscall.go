// Package syscall implements C11: decode the trap context's syscall
// registers, dispatch to the kernel operation, and encode the result
// back per spec §6. Grounded on biscuit's syscall.go ABI table shape
// (a7 selects the syscall, a0..a6 carry arguments, the raw result or
// a negated Err_t lands in a0), replaced with the Linux-compatible
// syscall numbers spec.md names instead of biscuit's own numbering
// since this kernel targets the same ABI a standard riscv64-linux
// userland expects.
package syscall

import (
	"encoding/binary"
	"strings"
	"time"

	"rv39kernel/internal/bounds"
	"rv39kernel/internal/errno"
	"rv39kernel/internal/ext2"
	"rv39kernel/internal/klog"
	"rv39kernel/internal/mem"
	"rv39kernel/internal/proc"
	"rv39kernel/internal/sbi"
	"rv39kernel/internal/sched"
	"rv39kernel/internal/signal"
	"rv39kernel/internal/task"
	"rv39kernel/internal/trap"
	"rv39kernel/internal/vm"
)

// Syscall numbers, per spec §6, matching riscv64-linux's numbering so a
// standard C runtime's raw ecall sequence needs no translation.
const (
	Getcwd        = 17
	Dup           = 23
	Mkdirat       = 34
	Unlinkat      = 35
	Symlinkat     = 36
	Linkat        = 37
	Chdir         = 49
	Openat        = 56
	Close         = 57
	Pipe2         = 59
	Getdents64    = 61
	Lseek         = 62
	Read          = 63
	Write         = 64
	Readlinkat    = 78
	Newfstatat    = 80
	Exit          = 93
	Sbrk          = 214 // nonstandard: the ABI this kernel implements passes an increment, not brk's absolute address
	Kill          = 129
	RtSigaction   = 134
	RtSigprocmask = 135
	Sigreturn     = 139
	Yield         = 124
	Gettimeofday  = 169
	Getpid        = 172
	Fork          = 220
	Execve        = 221
	Wait4         = 260
)

// open flags spec §6 names.
const (
	oCreat      = 0x40
	atRemoveDir = 0x200
)

// Dispatcher owns every piece of kernel state a syscall might touch: the
// process table, scheduler, mounted filesystem, and the allocator/boot
// parameters Fork/Exec need to build a fresh address space. It
// implements trap.Hooks.
type Dispatcher struct {
	Procs         *proc.ProcTable
	Sched         *sched.Scheduler
	FS            *ext2.Ext2
	Frames        *mem.FrameAllocator
	TrampolinePPN mem.PPN
	KernelSatp    uint64
	TrapHandler   uint64
	KStackSize    int
	HeapBase      mem.VA
	Timer         sbi.Timer
	TimerInterval uint64
	// Devices maps a devno.Mkdev-packed device id to the Fops instance
	// openat installs instead of an ext2.File, for the /dev nodes
	// created at boot (console, null, stat).
	Devices map[uint64]proc.Fops
}

func (d *Dispatcher) current() (*proc.PCB, *task.TCB) {
	t := d.Sched.Current()
	if t == nil {
		klog.Fatal("syscall: no current thread")
	}
	p, ok := d.Procs.Lookup(t.PID)
	if !ok {
		klog.Fatal("syscall: current thread %d has no PCB", t.PID)
	}
	return p, t
}

// Syscall implements trap.Hooks: decode a7/a0..a6 from ctx, dispatch,
// and write the result into a0.
func (d *Dispatcher) Syscall(ctx *trap.Context) {
	p, t := d.current()
	id := ctx.X[17]
	ret := d.dispatch(p, t, ctx, id, ctx.X[10], ctx.X[11], ctx.X[12], ctx.X[13], ctx.X[14], ctx.X[15])
	ctx.X[10] = uint64(ret)
}

// TimerTick reprograms the next timer interrupt, per spec §4.6.
func (d *Dispatcher) TimerTick() {
	if d.Timer != nil {
		d.Timer.SetNextTimer(d.TimerInterval)
	}
}

// PageFault attempts to repair a fault at vaddr requiring the access
// cause implies, per spec §4.5/§4.6.
func (d *Dispatcher) PageFault(vaddr uint64, cause trap.Cause) errno.Err_t {
	if !bounds.Reserve(bounds.B_PAGEFAULT) {
		return errno.ENOMEM
	}
	p, _ := d.current()
	var perm vm.Flag
	switch cause {
	case trap.StorePageFault:
		perm = vm.FlagW
	case trap.LoadPageFault:
		perm = vm.FlagR
	case trap.InstructionPageFault:
		perm = vm.FlagX
	}
	return p.AS.HandleFault(mem.VA(vaddr), perm)
}

func resolvePath(p *proc.PCB, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	cwd := p.Cwd.Get()
	if cwd == "/" {
		return "/" + path
	}
	return cwd + "/" + path
}

// unknown syscall ids panic: per spec §4.11 "the surface is closed."
func (d *Dispatcher) dispatch(p *proc.PCB, t *task.TCB, ctx *trap.Context, id, a0, a1, a2, a3, a4, a5 uint64) int64 {
	switch id {
	case Openat:
		return d.sysOpenat(p, a1, a2)
	case Close:
		return int64(p.Fds.Close(int(a0)).Neg())
	case Read:
		return d.sysRead(p, int(a0), mem.VA(a1), int(a2))
	case Write:
		return d.sysWrite(p, int(a0), mem.VA(a1), int(a2))
	case Lseek:
		return d.sysLseek(p, int(a0), int64(a1), int(a2))
	case Exit:
		return d.sysExit(p, t, int(int32(a0)))
	case Yield:
		d.Sched.SuspendAndRunNext(false)
		return 0
	case Gettimeofday:
		return d.sysGettimeofday(p, mem.VA(a0))
	case Getpid:
		return int64(p.PID)
	case Fork:
		return d.sysFork(p)
	case Execve:
		return d.sysExecve(p, mem.VA(a0), mem.VA(a1), mem.VA(a2))
	case Wait4:
		return d.sysWait4(p, int(int32(a0)), mem.VA(a1))
	case Pipe2:
		return d.sysPipe2(p, mem.VA(a0))
	case Dup:
		nfd, err := p.Fds.Dup(int(a0))
		if err != 0 {
			return int64(err.Neg())
		}
		return int64(nfd)
	case RtSigaction:
		return d.sysRtSigaction(p, int(a0), mem.VA(a1), mem.VA(a2))
	case RtSigprocmask:
		return d.sysRtSigprocmask(p, int(a0), mem.VA(a1), mem.VA(a2))
	case Sigreturn:
		return int64(p.Sig.Sigreturn(ctx))
	case Kill:
		return d.sysKill(int(int32(a0)), int(a1))
	case Sbrk:
		if int64(a0) > 0 && !bounds.Reserve(bounds.B_SBRK) {
			return int64(errno.ENOMEM.Neg())
		}
		newBrk, err := p.AS.Sbrk(d.HeapBase, int(int64(a0)))
		if err != 0 {
			return int64(err.Neg())
		}
		return int64(newBrk)
	case Getdents64:
		return d.sysGetdents64(p, int(a0), mem.VA(a1), int(a2))
	case Mkdirat:
		return d.sysPathOp(p, a1, func(path string) errno.Err_t { return d.FS.CreateDir(path) })
	case Unlinkat:
		flags := int32(a2)
		return d.sysPathOp(p, a1, func(path string) errno.Err_t {
			if flags&atRemoveDir != 0 {
				return d.FS.RemoveDir(path)
			}
			return d.FS.RemoveFile(path)
		})
	case Readlinkat:
		return d.sysReadlinkat(p, a1, mem.VA(a2), int(a3))
	case Symlinkat:
		return d.sysSymlinkat(p, mem.VA(a0), a2)
	case Linkat:
		return d.sysLinkat(p, mem.VA(a1), mem.VA(a3))
	case Newfstatat:
		return d.sysNewfstatat(p, int(a0), a1, mem.VA(a2))
	case Chdir:
		return d.sysChdir(p, a0)
	default:
		panic("syscall: unknown syscall id")
	}
}

func (d *Dispatcher) sysOpenat(p *proc.PCB, pathPtr, flags uint64) int64 {
	pathStr, err := p.AS.CopyInCString(mem.VA(pathPtr), 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	path := resolvePath(p, pathStr)
	if uint32(flags)&oCreat != 0 && !d.FS.Exists(path) {
		if cerr := d.FS.CreateFile(path); cerr != 0 {
			return int64(cerr.Neg())
		}
	}
	if dev, isDev, derr := d.FS.DeviceID(path); derr == 0 && isDev {
		fops, ok := d.Devices[dev]
		if !ok {
			return int64(errno.ENXIO.Neg())
		}
		fdnum := p.Fds.Install(&proc.Fd{Fops: fops, Perms: proc.FDRead | proc.FDWrite})
		return int64(fdnum)
	}
	h, operr := d.FS.OpenHandle(path)
	if operr != 0 {
		return int64(operr.Neg())
	}
	fdnum := p.Fds.Install(&proc.Fd{Fops: h, Perms: proc.FDRead | proc.FDWrite})
	return int64(fdnum)
}

func (d *Dispatcher) sysRead(p *proc.PCB, fd int, bufPtr mem.VA, count int) int64 {
	fdesc, ok := p.Fds.Get(fd)
	if !ok {
		return int64(errno.EBADF.Neg())
	}
	local := make([]byte, count)
	n, err := fdesc.Fops.Read(local)
	if err != 0 {
		return int64(err.Neg())
	}
	if cerr := p.AS.CopyOut(bufPtr, local[:n]); cerr != 0 {
		return int64(cerr.Neg())
	}
	return int64(n)
}

func (d *Dispatcher) sysWrite(p *proc.PCB, fd int, bufPtr mem.VA, count int) int64 {
	fdesc, ok := p.Fds.Get(fd)
	if !ok {
		return int64(errno.EBADF.Neg())
	}
	local, err := p.AS.CopyIn(bufPtr, count)
	if err != 0 {
		return int64(err.Neg())
	}
	n, werr := fdesc.Fops.Write(local)
	if werr != 0 {
		return int64(werr.Neg())
	}
	return int64(n)
}

func (d *Dispatcher) sysLseek(p *proc.PCB, fd int, offset int64, whence int) int64 {
	fdesc, ok := p.Fds.Get(fd)
	if !ok {
		return int64(errno.EBADF.Neg())
	}
	pos, err := fdesc.Fops.Seek(offset, whence)
	if err != 0 {
		return int64(err.Neg())
	}
	return pos
}

func (d *Dispatcher) sysExit(p *proc.PCB, t *task.TCB, code int) int64 {
	d.Procs.Exit(p, code)
	d.Sched.ExitAndRunNext(code, func(other *task.TCB) bool { return other.PID != p.PID })
	return 0
}

func (d *Dispatcher) sysGettimeofday(p *proc.PCB, tvPtr mem.VA) int64 {
	now := time.Now()
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], uint64(now.Unix()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(now.Nanosecond()/1000))
	if err := p.AS.CopyOut(tvPtr, buf); err != 0 {
		return int64(err.Neg())
	}
	return 0
}

func (d *Dispatcher) sysFork(p *proc.PCB) int64 {
	if !bounds.Reserve(bounds.B_FORK) {
		return int64(errno.ENOMEM.Neg())
	}
	child, err := d.Procs.Fork(p, d.Frames, d.KStackSize)
	if err != 0 {
		return int64(err.Neg())
	}
	d.Sched.AddReady(child.TCBs[0])
	return int64(child.PID)
}

func (d *Dispatcher) readStringVec(as *vm.AddressSpace, vecPtr mem.VA) ([]string, errno.Err_t) {
	if vecPtr == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; ; i++ {
		raw, err := as.CopyIn(mem.VA(uint64(vecPtr)+uint64(i*8)), 8)
		if err != 0 {
			return nil, err
		}
		ptr := binary.LittleEndian.Uint64(raw)
		if ptr == 0 {
			break
		}
		s, serr := as.CopyInCString(mem.VA(ptr), 4096)
		if serr != 0 {
			return nil, serr
		}
		out = append(out, s)
	}
	return out, 0
}

func (d *Dispatcher) readFile(path string) ([]byte, errno.Err_t) {
	h, err := d.FS.OpenHandle(path)
	if err != 0 {
		return nil, err
	}
	meta, merr := d.FS.Metadata(path)
	if merr != 0 {
		return nil, merr
	}
	buf := make([]byte, meta.Size)
	total := 0
	for total < len(buf) {
		n, rerr := h.Read(buf[total:])
		if rerr != 0 {
			return nil, rerr
		}
		if n == 0 {
			break
		}
		total += n
	}
	return buf[:total], 0
}

func (d *Dispatcher) sysExecve(p *proc.PCB, pathPtr, argvPtr, envpPtr mem.VA) int64 {
	if !bounds.Reserve(bounds.B_EXEC) {
		return int64(errno.ENOMEM.Neg())
	}
	pathStr, err := p.AS.CopyInCString(pathPtr, 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	path := resolvePath(p, pathStr)
	argv, aerr := d.readStringVec(p.AS, argvPtr)
	if aerr != 0 {
		return int64(aerr.Neg())
	}
	envp, eerr := d.readStringVec(p.AS, envpPtr)
	if eerr != 0 {
		return int64(eerr.Neg())
	}
	image, ferr := d.readFile(path)
	if ferr != 0 {
		return int64(ferr.Neg())
	}
	if err := d.Procs.Exec(p, d.Frames, d.TrampolinePPN, d.KernelSatp, image, argv, envp, d.TrapHandler); err != 0 {
		return int64(err.Neg())
	}
	return 0
}

func (d *Dispatcher) sysWait4(p *proc.PCB, pid int, statusPtr mem.VA) int64 {
	if pid == 0 {
		pid = -1
	}
	reaped, code, err := d.Procs.Wait(p, pid)
	if err != 0 {
		return int64(err.Neg())
	}
	if statusPtr != 0 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(code<<8))
		p.AS.CopyOut(statusPtr, buf)
	}
	return int64(reaped)
}

func (d *Dispatcher) sysPipe2(p *proc.PCB, fdsPtr mem.VA) int64 {
	r, w := proc.NewPipe(4096)
	rfd := p.Fds.Install(&proc.Fd{Fops: r, Perms: proc.FDRead})
	wfd := p.Fds.Install(&proc.Fd{Fops: w, Perms: proc.FDWrite})
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], uint32(rfd))
	binary.LittleEndian.PutUint32(buf[4:], uint32(wfd))
	if err := p.AS.CopyOut(fdsPtr, buf); err != 0 {
		return int64(err.Neg())
	}
	return 0
}

func (d *Dispatcher) sysRtSigaction(p *proc.PCB, sig int, actPtr, oldPtr mem.VA) int64 {
	var act signal.Action
	if actPtr != 0 {
		raw, err := p.AS.CopyIn(actPtr, 12)
		if err != 0 {
			return int64(err.Neg())
		}
		act.Handler = binary.LittleEndian.Uint64(raw[0:])
		act.Mask = binary.LittleEndian.Uint32(raw[8:])
	}
	old, err := p.Sig.SetAction(sig, act)
	if err != 0 {
		return int64(err.Neg())
	}
	if oldPtr != 0 {
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint64(buf[0:], old.Handler)
		binary.LittleEndian.PutUint32(buf[8:], old.Mask)
		p.AS.CopyOut(oldPtr, buf)
	}
	return 0
}

// rt_sigprocmask how values, per spec §6.
const (
	sigBlock   = 0
	sigUnblock = 1
	sigSetmask = 2
)

func (d *Dispatcher) sysRtSigprocmask(p *proc.PCB, how int, setPtr, oldPtr mem.VA) int64 {
	old := p.Sig.Mask()
	if oldPtr != 0 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, old)
		p.AS.CopyOut(oldPtr, buf)
	}
	if setPtr == 0 {
		return 0
	}
	raw, err := p.AS.CopyIn(setPtr, 4)
	if err != 0 {
		return int64(err.Neg())
	}
	newMask := binary.LittleEndian.Uint32(raw)
	switch how {
	case sigBlock:
		p.Sig.SetMask(old | newMask)
	case sigUnblock:
		p.Sig.SetMask(old &^ newMask)
	case sigSetmask:
		p.Sig.SetMask(newMask)
	default:
		return int64(errno.EINVAL.Neg())
	}
	return 0
}

func (d *Dispatcher) sysKill(pid, sig int) int64 {
	target, ok := d.Procs.Lookup(pid)
	if !ok {
		return int64(errno.ESRCH.Neg())
	}
	return int64(target.Sig.Kill(sig).Neg())
}

func (d *Dispatcher) sysGetdents64(p *proc.PCB, fd int, bufPtr mem.VA, count int) int64 {
	fdesc, ok := p.Fds.Get(fd)
	if !ok {
		return int64(errno.EBADF.Neg())
	}
	file, ok := fdesc.Fops.(*ext2.File)
	if !ok {
		return int64(errno.ENOTDIR.Neg())
	}
	var out []byte
	for len(out) < count {
		e, ok := file.NextDirent()
		if !ok {
			break
		}
		rec := encodeDirent64(e)
		if len(out)+len(rec) > count {
			break
		}
		out = append(out, rec...)
	}
	if err := p.AS.CopyOut(bufPtr, out); err != 0 {
		return int64(err.Neg())
	}
	return int64(len(out))
}

// encodeDirent64 mirrors Linux's struct linux_dirent64: ino, off,
// reclen, type, then a NUL-terminated name, the whole record padded to
// an 8-byte boundary.
func encodeDirent64(e ext2.DirEntry) []byte {
	name := append([]byte(e.Name), 0)
	reclen := (19 + len(name) + 7) &^ 7
	buf := make([]byte, reclen)
	binary.LittleEndian.PutUint64(buf[0:], uint64(e.Inode))
	binary.LittleEndian.PutUint64(buf[8:], 0)
	binary.LittleEndian.PutUint16(buf[16:], uint16(reclen))
	buf[18] = e.FileType
	copy(buf[19:], name)
	return buf
}

func (d *Dispatcher) sysPathOp(p *proc.PCB, pathPtr uint64, op func(path string) errno.Err_t) int64 {
	pathStr, err := p.AS.CopyInCString(mem.VA(pathPtr), 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	return int64(op(resolvePath(p, pathStr)).Neg())
}

func (d *Dispatcher) sysReadlinkat(p *proc.PCB, pathPtr uint64, bufPtr mem.VA, bufsize int) int64 {
	pathStr, err := p.AS.CopyInCString(mem.VA(pathPtr), 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	target, rerr := d.FS.ReadLink(resolvePath(p, pathStr))
	if rerr != 0 {
		return int64(rerr.Neg())
	}
	if len(target) > bufsize {
		target = target[:bufsize]
	}
	if cerr := p.AS.CopyOut(bufPtr, []byte(target)); cerr != 0 {
		return int64(cerr.Neg())
	}
	return int64(len(target))
}

func (d *Dispatcher) sysSymlinkat(p *proc.PCB, targetPtr mem.VA, linkpathPtr uint64) int64 {
	targetStr, err := p.AS.CopyInCString(targetPtr, 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	linkStr, lerr := p.AS.CopyInCString(mem.VA(linkpathPtr), 4096)
	if lerr != 0 {
		return int64(lerr.Neg())
	}
	return int64(d.FS.Symlink(targetStr, resolvePath(p, linkStr)).Neg())
}

func (d *Dispatcher) sysLinkat(p *proc.PCB, oldPathPtr, newPathPtr mem.VA) int64 {
	oldStr, err := p.AS.CopyInCString(oldPathPtr, 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	newStr, nerr := p.AS.CopyInCString(newPathPtr, 4096)
	if nerr != 0 {
		return int64(nerr.Neg())
	}
	return int64(d.FS.Link(resolvePath(p, oldStr), resolvePath(p, newStr)).Neg())
}

// encodeStat lays out a minimal status record this kernel's own libc
// reads: inode, mode, link count, size. It is not byte-compatible with
// glibc's struct stat since no glibc-linked userland runs under this
// kernel.
func encodeStat(meta ext2.Metadata) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:], uint64(meta.Inode))
	binary.LittleEndian.PutUint32(buf[8:], uint32(meta.Mode))
	binary.LittleEndian.PutUint32(buf[12:], uint32(meta.LinksCount))
	binary.LittleEndian.PutUint64(buf[16:], meta.Size)
	return buf
}

// sysNewfstatat implements newfstatat(dirfd, path, statbuf, flags); an
// empty path treats dirfd as the fd to stat directly (AT_EMPTY_PATH),
// which is how this kernel's libc issues a plain fstat().
func (d *Dispatcher) sysNewfstatat(p *proc.PCB, dirfd int, pathPtr uint64, statbufPtr mem.VA) int64 {
	var pathStr string
	if pathPtr != 0 {
		pathStr, _ = p.AS.CopyInCString(mem.VA(pathPtr), 4096)
	}
	var meta ext2.Metadata
	var err errno.Err_t
	if pathStr != "" {
		meta, err = d.FS.Metadata(resolvePath(p, pathStr))
	} else {
		fdesc, ok := p.Fds.Get(dirfd)
		if !ok {
			return int64(errno.EBADF.Neg())
		}
		file, ok := fdesc.Fops.(*ext2.File)
		if !ok {
			return int64(errno.EBADF.Neg())
		}
		meta, err = d.FS.StatInode(file.Inode())
	}
	if err != 0 {
		return int64(err.Neg())
	}
	if cerr := p.AS.CopyOut(statbufPtr, encodeStat(meta)); cerr != 0 {
		return int64(cerr.Neg())
	}
	return 0
}

func (d *Dispatcher) sysChdir(p *proc.PCB, pathPtr uint64) int64 {
	pathStr, err := p.AS.CopyInCString(mem.VA(pathPtr), 4096)
	if err != 0 {
		return int64(err.Neg())
	}
	path := resolvePath(p, pathStr)
	meta, merr := d.FS.Metadata(path)
	if merr != 0 {
		return int64(merr.Neg())
	}
	if meta.Mode&0xF000 != ext2.TypeDir {
		return int64(errno.ENOTDIR.Neg())
	}
	p.Cwd.Set(path)
	return 0
}
