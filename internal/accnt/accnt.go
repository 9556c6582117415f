// Package accnt accumulates per-process CPU usage, consumed by a PCB
// to answer getrusage-shaped queries. Grounded on biscuit's Accnt_t
// (biscuit/src/accnt/accnt.go), kept field-for-field; only ToRusage's
// byte layout changed to match this kernel's 64-bit timeval-pair
// contract via util.Writen rather than biscuit's original offsets.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"rv39kernel/internal/util"
)

// Accnt accumulates a process's user and system time in nanoseconds.
type Accnt struct {
	sync.Mutex
	Userns int64
	Sysns  int64
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt) Now() int {
	return int(time.Now().UnixNano())
}

// IOTime removes time spent waiting for I/O from system time.
func (a *Accnt) IOTime(since int) {
	a.Systadd(-(a.Now() - since))
}

// SleepTime removes time spent sleeping from system time.
func (a *Accnt) SleepTime(since int) {
	a.Systadd(-(a.Now() - since))
}

// Finish adds the time elapsed since inttime to system time, called
// when a syscall returns to userspace.
func (a *Accnt) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

// Add merges n's counters into a, used when a zombie child's usage is
// folded into its parent on reap.
func (a *Accnt) Add(n *Accnt) {
	a.Lock()
	n.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	n.Unlock()
	a.Unlock()
}

// ToRusage encodes the accounting record as a struct rusage prefix: two
// timeval pairs (user, then system), each a pair of 8-byte (seconds,
// microseconds) fields.
func (a *Accnt) ToRusage() []byte {
	a.Lock()
	defer a.Unlock()
	ret := make([]byte, 4*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	return ret
}
