package proc

import (
	"sync"

	"rv39kernel/internal/accnt"
	"rv39kernel/internal/errno"
	"rv39kernel/internal/klog"
	"rv39kernel/internal/mem"
	"rv39kernel/internal/sched"
	"rv39kernel/internal/signal"
	"rv39kernel/internal/stats"
	"rv39kernel/internal/task"
	"rv39kernel/internal/trap"
	"rv39kernel/internal/vm"
)

// PCB is C9's process control block, per spec §3: pid, address space, fd
// table, a list of TCBs, a weak parent reference, strong children, cwd,
// cmd, exit bookkeeping, and signal state. Grounded on biscuit's
// Proc_t-equivalent shape (biscuit never shipped a standalone proc
// package in this retrieval, see tinfo.Tnote_t and fd.Cwd_t for the
// nearest fragments), assembled here to match spec §4.9's lifecycle.
type PCB struct {
	mu sync.Mutex

	PID int
	AS  *vm.AddressSpace
	Fds *Table
	Cwd *Cwd

	TCBs []*task.TCB

	Parent   *PCB // weak: never holds the child alive by itself
	Children []*PCB

	Cmd      string
	ExitCode int
	Zombie   bool

	Sig  *signal.State
	Acct *accnt.Accnt

	startNs int
}

// Cwd tracks a process's current working directory, grounded on
// fd.Cwd_t (biscuit/src/fd/fd.go).
type Cwd struct {
	mu   sync.Mutex
	Path string
}

func NewCwd(path string) *Cwd { return &Cwd{Path: path} }

func (c *Cwd) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Path
}

func (c *Cwd) Set(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Path = p
}

// ProcTable is the process-wide registry mapping pid -> PCB, protected by a
// single lock per spec §5's "pid allocator, PID->PCB map" singleton
// policy.
type ProcTable struct {
	mu    sync.Mutex
	procs map[int]*PCB
	next  int
	Sched *sched.Scheduler
	Init  *PCB
}

func NewProcTable(s *sched.Scheduler) *ProcTable {
	return &ProcTable{procs: make(map[int]*PCB), next: 1, Sched: s}
}

func (pt *ProcTable) allocPID() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pid := pt.next
	pt.next++
	return pid
}

func (pt *ProcTable) register(p *PCB) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.procs[p.PID] = p
}

func (pt *ProcTable) Lookup(pid int) (*PCB, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.procs[pid]
	return p, ok
}

func (pt *ProcTable) unregister(pid int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.procs, pid)
}

// Spawn creates the very first process (init) from an ELF image, per
// spec §4.9: "The init process is spawned from an embedded init app at
// boot and must exist."
func (pt *ProcTable) Spawn(frames *mem.FrameAllocator, trampolinePPN mem.PPN, kernelSatp uint64, image []byte, argv []string, kstackSize int, trapHandler uint64) (*PCB, errno.Err_t) {
	as, stackTop, entry, err := vm.FromELF(frames, trampolinePPN, image)
	if err != 0 {
		return nil, err
	}
	stack := as.StackSegment()
	sp := as.PushCRT0(stack, stackTop, argv, nil)

	acct := &accnt.Accnt{}
	p := &PCB{
		PID:     pt.allocPID(),
		AS:      as,
		Fds:     NewTable(),
		Cwd:     NewCwd("/"),
		Cmd:     argv0(argv),
		Sig:     signal.NewState(),
		Acct:    acct,
		startNs: acct.Now(),
	}
	trapCtxVPN, _ := as.TrapContextVPN(0)
	t := task.NewTCB(task.Tid(p.PID), p.PID, kstackSize, trapCtxVPN, uint64(entry), uint64(sp), kernelSatp, trapHandler)
	p.TCBs = append(p.TCBs, t)
	pt.register(p)
	if pt.Init == nil {
		pt.Init = p
	}
	return p, 0
}

func argv0(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}

// Fork implements spec §4.9's fork(): clone the address space via
// vm.FromFork, copy the fd table and signal state, inherit cwd/cmd,
// push the child into the parent's Children, and create one new TCB
// whose trap context is identical except x[10] (the return value) is 0
// in the child.
func (pt *ProcTable) Fork(parent *PCB, frames *mem.FrameAllocator, kstackSize int) (*PCB, errno.Err_t) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	childAS := vm.FromFork(parent.AS, frames)
	childAcct := &accnt.Accnt{}
	child := &PCB{
		PID:     pt.allocPID(),
		AS:      childAS,
		Fds:     parent.Fds.Fork(),
		Cwd:     NewCwd(parent.Cwd.Get()),
		Cmd:     parent.Cmd,
		Parent:  parent,
		Sig:     parent.Sig.Fork(),
		Acct:    childAcct,
		startNs: childAcct.Now(),
	}
	parentT := parent.TCBs[0]
	childTrapVPN, _ := childAS.TrapContextVPN(0)
	childCtx := *parentT.TrapContext()
	childCtx.X[10] = 0
	childTCB := task.NewTCB(task.Tid(child.PID), child.PID, kstackSize, childTrapVPN,
		childCtx.Sepc, childCtx.X[2], childCtx.KernelSatp, childCtx.TrapHandler)
	*childTCB.TrapContext() = childCtx
	child.TCBs = append(child.TCBs, childTCB)

	parent.Children = append(parent.Children, child)
	pt.register(child)
	stats.Kernel.Forks.Inc()
	return child, 0
}

// Exec replaces the calling process's address space with a freshly
// loaded ELF image, per spec §4.9 (implied by §6's execve syscall): the
// old address space is dropped, a new one built, and the sole thread's
// trap context reinitialized at the new entry point.
func (pt *ProcTable) Exec(p *PCB, frames *mem.FrameAllocator, trampolinePPN mem.PPN, kernelSatp uint64, image []byte, argv, envp []string, trapHandler uint64) errno.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	newAS, stackTop, entry, err := vm.FromELF(frames, trampolinePPN, image)
	if err != 0 {
		return err
	}
	oldAS := p.AS
	p.AS = newAS
	oldAS.Uvmfree()

	stack := newAS.StackSegment()
	sp := newAS.PushCRT0(stack, stackTop, argv, envp)

	t := p.TCBs[0]
	kernelSP := uint64(uintptr(len(t.KernelStack)))
	*t.TrapContext() = *trap.AppInitContext(uint64(entry), uint64(sp), kernelSatp, kernelSP, trapHandler)
	p.Cmd = argv0(argv)
	stats.Kernel.Execs.Inc()
	return 0
}

// Wait implements spec §4.9's wait(pid): pid == -1 reaps any zombie
// child; pid > 0 targets that specific child. ECHILD if no matching
// child exists at all; EAGAIN if the targeted child(ren) exist but none
// are zombie yet.
func (pt *ProcTable) Wait(parent *PCB, pid int) (reapedPID int, code int, err errno.Err_t) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	found := false
	for i, c := range parent.Children {
		if pid != -1 && c.PID != pid {
			continue
		}
		found = true
		c.mu.Lock()
		zombie := c.Zombie
		exitCode := c.ExitCode
		c.mu.Unlock()
		if zombie {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			pt.unregister(c.PID)
			parent.Acct.Add(c.Acct)
			return c.PID, exitCode, 0
		}
	}
	if !found {
		return 0, 0, errno.ECHILD
	}
	return 0, 0, errno.EAGAIN
}

// Exit implements spec §4.9's exit(code): mark the calling thread Died,
// mark the process zombie, re-parent children to init, eagerly release
// user-facing resources, and leave the pid record for a future Wait to
// reap.
func (pt *ProcTable) Exit(p *PCB, code int) {
	p.mu.Lock()
	for _, t := range p.TCBs {
		t.MarkDied(code)
	}
	p.Acct.Finish(p.startNs)
	p.Zombie = true
	p.ExitCode = code
	children := p.Children
	p.Children = nil
	p.mu.Unlock()

	if pt.Init != nil && p != pt.Init {
		pt.Init.mu.Lock()
		for _, c := range children {
			c.Parent = pt.Init
			pt.Init.Children = append(pt.Init.Children, c)
		}
		pt.Init.mu.Unlock()
	} else if p == pt.Init {
		klog.Fatal("proc: init process exited")
	}

	p.Fds.CloseAll()
	p.AS.Uvmfree()
}
