package proc

import (
	"rv39kernel/internal/errno"
	"rv39kernel/internal/stats"
)

// NullDevice backs /dev/null, per spec §6's device table: reads return
// EOF immediately, writes are discarded but report success.
type NullDevice struct{}

func NewNullDevice() *NullDevice { return &NullDevice{} }

func (*NullDevice) Read([]byte) (int, errno.Err_t)       { return 0, 0 }
func (*NullDevice) Write(buf []byte) (int, errno.Err_t)  { return len(buf), 0 }
func (*NullDevice) Close() errno.Err_t                   { return 0 }
func (*NullDevice) Reopen() errno.Err_t                  { return 0 }
func (*NullDevice) Seek(int64, int) (int64, errno.Err_t) { return 0, errno.ESPIPE }

// StatDevice backs /dev/stat: reading it renders the kernel-wide event
// counters as text, the same presentation cmd/kernel prints at
// shutdown, for a running kernel to inspect without a debugger.
type StatDevice struct {
	consumed bool
}

func NewStatDevice() *StatDevice { return &StatDevice{} }

func (d *StatDevice) Read(buf []byte) (int, errno.Err_t) {
	if d.consumed {
		return 0, 0
	}
	text := stats.String(stats.Kernel)
	n := copy(buf, text)
	if n == len(text) {
		d.consumed = true
	}
	return n, 0
}

func (*StatDevice) Write([]byte) (int, errno.Err_t)     { return 0, errno.EBADF }
func (*StatDevice) Close() errno.Err_t                   { return 0 }
func (*StatDevice) Reopen() errno.Err_t                  { return 0 }
func (*StatDevice) Seek(int64, int) (int64, errno.Err_t) { return 0, errno.ESPIPE }
