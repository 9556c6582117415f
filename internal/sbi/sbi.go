// Package sbi describes the two external collaborator surfaces spec.md
// §1/§6 name as given boundaries: the SBI console calls
// (console_putchar/console_getchar) and the timer/shutdown ABI. Neither
// is implemented here — real SBI calls are an `ecall` from supervisor to
// machine mode, platform bring-up this module's spec explicitly puts out
// of scope — but the interfaces let the rest of the kernel (console fd,
// timer-tick trap hook, shutdown syscall) be written and tested against
// a fake, the way biscuit's fdops.Fdops_i lets file descriptors be
// tested without a real disk.
package sbi

// Console is the SBI console capability: one byte in, one byte out,
// matching spec §6's "write to fd=1/2 invokes console_putchar... read
// from fd=0 loops on console_getchar".
type Console interface {
	// PutChar writes one byte, blocking if the console is momentarily
	// unable to accept it.
	PutChar(b byte)
	// GetChar returns a byte if one is available, or ok=false if the
	// console is momentarily empty (the caller is expected to retry).
	GetChar() (b byte, ok bool)
}

// Timer is the SBI timer capability the trap plane's TimerTick hook
// reprograms after every SupervisorTimer trap.
type Timer interface {
	SetNextTimer(intervalTicks uint64)
}

// Shutdown is the SBI power-off capability, invoked at normal kernel
// shutdown after the filesystem is flushed, per spec §6's "Persisted
// state" clause.
type Shutdown interface {
	PowerOff(failure bool)
}
