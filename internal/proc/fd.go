// Package proc implements C9: process control blocks and the
// fork/exec/wait/exit lifecycle, grounded on biscuit's fd.Fd_t
// (biscuit/src/fd/fd.go) and its weak-parent/strong-children process
// tree (spec §3's PCB, spec §8's cyclic-graph property).
package proc

import (
	"sync"

	"rv39kernel/internal/errno"
)

// File descriptor permission bits, mirroring biscuit's FD_READ/FD_WRITE.
const (
	FDRead  = 0x1
	FDWrite = 0x2
)

// Fops is the operation set every open file description implements,
// grounded on biscuit's fdops.Fdops_i, trimmed to what this kernel's
// syscall surface exercises (spec §6: read/write/close/lseek).
type Fops interface {
	Read(buf []byte) (int, errno.Err_t)
	Write(buf []byte) (int, errno.Err_t)
	Close() errno.Err_t
	Seek(offset int64, whence int) (int64, errno.Err_t)
	Reopen() errno.Err_t
}

// Fd is an open file descriptor slot: an Fops implementation plus the
// permission bits it was opened with.
type Fd struct {
	Fops  Fops
	Perms int
}

// Copy duplicates fd by reopening its underlying Fops, per
// fd.Copyfd.
func (fd *Fd) Copy() (*Fd, errno.Err_t) {
	nfd := &Fd{Fops: fd.Fops, Perms: fd.Perms}
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Table is a process's open-file-descriptor table, shared by all
// threads of that process and reference counted across fork/dup/close,
// per spec §5's "fd table entries shared by all threads" policy.
type Table struct {
	mu    sync.Mutex
	slots map[int]*Fd
	next  int
}

func NewTable() *Table {
	return &Table{slots: make(map[int]*Fd)}
}

// Install inserts fd at the lowest unused descriptor number.
func (t *Table) Install(fd *Fd) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for {
		if _, taken := t.slots[n]; !taken {
			break
		}
		n++
	}
	t.slots[n] = fd
	if n == t.next {
		t.next = n + 1
	}
	return n
}

// Get returns the fd at n, if open.
func (t *Table) Get(n int) (*Fd, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd, ok := t.slots[n]
	return fd, ok
}

// Close releases descriptor n.
func (t *Table) Close(n int) errno.Err_t {
	t.mu.Lock()
	fd, ok := t.slots[n]
	if !ok {
		t.mu.Unlock()
		return errno.EBADF
	}
	delete(t.slots, n)
	t.mu.Unlock()
	return fd.Fops.Close()
}

// Dup installs a fresh descriptor sharing n's Fops.
func (t *Table) Dup(n int) (int, errno.Err_t) {
	fd, ok := t.Get(n)
	if !ok {
		return 0, errno.EBADF
	}
	nfd, err := fd.Copy()
	if err != 0 {
		return 0, err
	}
	return t.Install(nfd), 0
}

// Fork clones the table for a child process: every slot is reopened
// (reference counted, not deep copied), per spec §4.9.
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := NewTable()
	for n, fd := range t.slots {
		nfd, err := fd.Copy()
		if err != 0 {
			continue
		}
		c.slots[n] = nfd
	}
	c.next = t.next
	return c
}

// CloseAll closes every open descriptor, used by exit's eager resource
// release, per spec §4.9.
func (t *Table) CloseAll() {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[int]*Fd)
	t.mu.Unlock()
	for _, fd := range slots {
		fd.Fops.Close()
	}
}
