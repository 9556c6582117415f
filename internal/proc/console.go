package proc

import (
	"rv39kernel/internal/errno"
	"rv39kernel/internal/sbi"
)

// Console is the fd=0/1/2 file description, per spec §6: reads loop on
// sbi.Console.GetChar, writes call sbi.Console.PutChar per byte.
type Console struct {
	c sbi.Console
}

func NewConsole(c sbi.Console) *Console { return &Console{c: c} }

func (c *Console) Read(buf []byte) (int, errno.Err_t) {
	if len(buf) == 0 {
		return 0, 0
	}
	for {
		if b, ok := c.c.GetChar(); ok {
			buf[0] = b
			return 1, 0
		}
	}
}

func (c *Console) Write(buf []byte) (int, errno.Err_t) {
	for _, b := range buf {
		c.c.PutChar(b)
	}
	return len(buf), 0
}

func (c *Console) Close() errno.Err_t                     { return 0 }
func (c *Console) Reopen() errno.Err_t                    { return 0 }
func (c *Console) Seek(int64, int) (int64, errno.Err_t)   { return 0, errno.ESPIPE }
