// Package sched implements C7: the ready-queue scheduler. Grounded on
// biscuit's runtime-delegated scheduling (biscuit lets the patched Go
// runtime's goroutine scheduler pick the next thread, since every
// biscuit thread is a pinned goroutine) replaced with an explicit FIFO
// ready queue, since this module's TCBs are plain structs rather than
// goroutines and something must pick the next one by hand — matching
// how a freestanding kernel without a host scheduler actually works.
package sched

import (
	"sync"

	"rv39kernel/internal/irqlock"
	"rv39kernel/internal/stats"
	"rv39kernel/internal/task"
)

// Queue is the pluggable scheduling policy interface spec §4.7 names:
// add a thread to the ready set, fetch the next one to run, and report
// how many are runnable.
type Queue interface {
	AddReady(t *task.TCB)
	Fetch() (*task.TCB, bool)
	Count() int
	Filter(keep func(*task.TCB) bool)
}

// FIFO is the reference Queue implementation: a plain ring of ready
// threads, popped in arrival order.
type FIFO struct {
	irqlock.Mutex
	ready []*task.TCB
}

func NewFIFO() *FIFO { return &FIFO{} }

func (f *FIFO) AddReady(t *task.TCB) {
	f.Lock()
	defer f.Unlock()
	t.SetStatus(task.Ready)
	f.ready = append(f.ready, t)
}

func (f *FIFO) Fetch() (*task.TCB, bool) {
	f.Lock()
	defer f.Unlock()
	if len(f.ready) == 0 {
		return nil, false
	}
	t := f.ready[0]
	f.ready = f.ready[1:]
	return t, true
}

func (f *FIFO) Count() int {
	f.Lock()
	defer f.Unlock()
	return len(f.ready)
}

// Filter removes every thread for which keep returns false, used by
// exit_and_run_next to drop a dying process's other threads from the
// ready queue, per spec §4.9.
func (f *FIFO) Filter(keep func(*task.TCB) bool) {
	f.Lock()
	defer f.Unlock()
	out := f.ready[:0]
	for _, t := range f.ready {
		if keep(t) {
			out = append(out, t)
		}
	}
	f.ready = out
}

// Scheduler drives the run loop: it owns a Queue, the currently running
// thread, and a switch callback that performs the actual register save
// and restore (supplied by the trap plane / cmd/kernel wiring, since the
// real switch is machine-specific assembly this package cannot express).
type Scheduler struct {
	mu      sync.Mutex
	q       Queue
	current *task.TCB
	Switch  func(from, to *task.Context)
}

func New(q Queue) *Scheduler {
	return &Scheduler{q: q}
}

// Current returns the thread presently selected to run, if any.
func (s *Scheduler) Current() *task.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// RunApp is one step of the scheduler's idle loop, per spec §4.7: fetch
// the next ready thread, make it current and switch to it. It returns
// (nil, false) at once if the queue is empty; looping and idle detection
// are the caller's.
func (s *Scheduler) RunApp() (*task.TCB, bool) {
	next, ok := s.q.Fetch()
	if !ok {
		return nil, false
	}
	next.SetStatus(task.Running)
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()
	if s.Switch != nil {
		var prevCtx *task.Context
		if prev != nil {
			prevCtx = &prev.Ctx
		} else {
			prevCtx = &task.Context{}
		}
		stats.Kernel.ContextSwitches.Inc()
		s.Switch(prevCtx, &next.Ctx)
	}
	return next, true
}

// SuspendAndRunNext demotes the current thread to Ready (or Blocked, if
// blocking is true), requeues it if still runnable, and schedules the
// next ready thread, per spec §4.7.
func (s *Scheduler) SuspendAndRunNext(blocking bool) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		if blocking {
			cur.SetStatus(task.Blocked)
		} else {
			s.q.AddReady(cur)
		}
	}
	s.RunApp()
}

// ExitAndRunNext marks the current thread Died with the given exit code,
// drops it from the ready queue (it cannot still be in it, but its
// siblings in the same process may need dropping too, via keepOthers),
// and schedules the next ready thread, per spec §4.9.
func (s *Scheduler) ExitAndRunNext(code int, keepOthers func(*task.TCB) bool) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil {
		cur.MarkDied(code)
	}
	if keepOthers != nil {
		s.q.Filter(keepOthers)
	}
	s.RunApp()
}

// Ready reports how many threads are currently runnable.
func (s *Scheduler) Ready() int { return s.q.Count() }

// AddReady enqueues a freshly created thread (e.g. from fork), per spec
// §4.9.
func (s *Scheduler) AddReady(t *task.TCB) { s.q.AddReady(t) }
