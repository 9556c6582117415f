// Package klog is the kernel's logging boundary. The teacher logs directly
// with fmt.Printf onto the boot console (mem.Phys_init, fs/blk.go); this
// package keeps that posture but routes through an io.Writer so tests can
// capture output instead of depending on the real SBI console (out of
// scope, see sbi.Console).
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stdout
)

// SetOutput redirects kernel log output. Production wiring points this at
// an sbi.Console; tests point it at a bytes.Buffer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Printf writes a formatted line to the kernel log, matching the teacher's
// bare fmt.Printf call sites.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, format, args...)
}

// Warn logs a recoverable condition (e.g. a process being killed for an
// illegal access) that a real deployment would want surfaced but that is
// not a kernel invariant violation.
func Warn(format string, args ...interface{}) {
	Printf("[warn] "+format+"\n", args...)
}

// Fatal logs and panics, for kernel invariant violations that the teacher
// treats as unrecoverable (double free, corrupt page table, OOM in the
// heap). There is no recovery path by design: see spec §7.
func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	Printf("[fatal] %s\n", msg)
	panic(msg)
}
