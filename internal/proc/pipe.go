package proc

import (
	"sync"

	"rv39kernel/internal/circbuf"
	"rv39kernel/internal/errno"
)

// pipeBuf is the shared backing buffer between a pipe's two ends,
// grounded on biscuit's circbuf-backed pipe (here internal/circbuf
// instead of biscuit's Userio_i-based Circbuf_t, see circbuf.go).
type pipeBuf struct {
	mu       sync.Mutex
	cond     *sync.Cond
	cb       *circbuf.Circbuf
	readers  int
	writers  int
}

func newPipeBuf(size int) *pipeBuf {
	p := &pipeBuf{cb: circbuf.New(size)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// PipeReadEnd and PipeWriteEnd implement Fops over a shared pipeBuf, per
// spec §8's pipe byte-for-byte scenario (syscall 59 pipe2).
type PipeReadEnd struct{ p *pipeBuf }
type PipeWriteEnd struct{ p *pipeBuf }

// NewPipe creates a connected pipe pair with the given buffer capacity.
func NewPipe(size int) (*PipeReadEnd, *PipeWriteEnd) {
	p := newPipeBuf(size)
	p.readers, p.writers = 1, 1
	return &PipeReadEnd{p}, &PipeWriteEnd{p}
}

func (r *PipeReadEnd) Read(buf []byte) (int, errno.Err_t) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	for r.p.cb.Empty() && r.p.writers > 0 {
		r.p.cond.Wait()
	}
	if r.p.cb.Empty() && r.p.writers == 0 {
		return 0, 0 // EOF
	}
	n, err := r.p.cb.Copyout(buf)
	r.p.cond.Broadcast()
	return n, err
}

func (r *PipeReadEnd) Write([]byte) (int, errno.Err_t) { return 0, errno.EBADF }
func (r *PipeReadEnd) Seek(int64, int) (int64, errno.Err_t) { return 0, errno.ESPIPE }
func (r *PipeReadEnd) Reopen() errno.Err_t {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	r.p.readers++
	return 0
}
func (r *PipeReadEnd) Close() errno.Err_t {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	r.p.readers--
	r.p.cond.Broadcast()
	return 0
}

func (w *PipeWriteEnd) Write(buf []byte) (int, errno.Err_t) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	total := 0
	for total < len(buf) {
		for w.p.cb.Full() && w.p.readers > 0 {
			w.p.cond.Wait()
		}
		if w.p.readers == 0 {
			return total, errno.EPIPE
		}
		n, err := w.p.cb.Copyin(buf[total:])
		if err != 0 {
			return total, err
		}
		total += n
		w.p.cond.Broadcast()
	}
	return total, 0
}

func (w *PipeWriteEnd) Read([]byte) (int, errno.Err_t) { return 0, errno.EBADF }
func (w *PipeWriteEnd) Seek(int64, int) (int64, errno.Err_t) { return 0, errno.ESPIPE }
func (w *PipeWriteEnd) Reopen() errno.Err_t {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	w.p.writers++
	return 0
}
func (w *PipeWriteEnd) Close() errno.Err_t {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	w.p.writers--
	w.p.cond.Broadcast()
	return 0
}
