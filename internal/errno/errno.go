// Package errno defines the kernel-wide error representation. Like the
// teacher's defs.Err_t, an Err_t holds a positive POSIX errno whose
// negation (see Neg) is returned directly in a syscall's a0 register;
// zero means success. Non-syscall kernel code panics
// on invariant violations instead of returning an Err_t (see klog.Fatal),
// matching the teacher's "page-table/frame-allocator failures panic" design.
package errno

// Err_t is a positive POSIX-style errno, or 0 for success; Neg gives the
// negated value placed in a0.
type Err_t int

const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	ENXIO        Err_t = 6
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	EAGAIN       Err_t = 11
	ENOMEM       Err_t = 12
	EFAULT       Err_t = 14
	EEXIST       Err_t = 17
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOSPC       Err_t = 28
	EPIPE        Err_t = 32
	ESPIPE       Err_t = 29
	EMLINK       Err_t = 31
	ENAMETOOLONG Err_t = 36
	ENOSYS       Err_t = 38
	ENOTEMPTY    Err_t = 39
	ELOOP        Err_t = 40
	ENOEXEC      Err_t = 8
)

// String renders a human-readable name, used in kernel log lines when a
// process is killed or a syscall fails.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "success"
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case ESRCH:
		return "ESRCH"
	case EINTR:
		return "EINTR"
	case EIO:
		return "EIO"
	case ENXIO:
		return "ENXIO"
	case EBADF:
		return "EBADF"
	case ECHILD:
		return "ECHILD"
	case EAGAIN:
		return "EAGAIN"
	case ENOMEM:
		return "ENOMEM"
	case EFAULT:
		return "EFAULT"
	case EEXIST:
		return "EEXIST"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case ENFILE:
		return "ENFILE"
	case EMFILE:
		return "EMFILE"
	case ENOSPC:
		return "ENOSPC"
	case EPIPE:
		return "EPIPE"
	case ESPIPE:
		return "ESPIPE"
	case EMLINK:
		return "EMLINK"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case ENOSYS:
		return "ENOSYS"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ELOOP:
		return "ELOOP"
	case ENOEXEC:
		return "ENOEXEC"
	default:
		return "Err_t(unknown)"
	}
}

// Error satisfies the error interface so Err_t can be wrapped at package
// boundaries that are exercised by tests (e.g. the ext2 VFS facade), while
// the syscall plane keeps using the raw negated integer.
func (e Err_t) Error() string {
	return e.String()
}

// Neg returns the syscall return value for this error: a negative int, or 0
// for success.
func (e Err_t) Neg() int {
	return -int(e)
}
