// Package bootcfg is the boot-time configuration record platform
// bring-up code (out of scope per spec.md §1) would construct from the
// device tree and pass into kernel initialization. Grounded on the
// teacher's pattern of compile-time constants plus a handful of
// runtime-discovered values (biscuit's mem.Phys_init reads
// runtime.Get_phys() once at boot and threads the result through every
// later allocator call) rather than a global mutable singleton.
package bootcfg

import "rv39kernel/internal/mem"

// Config collects every value the rest of the kernel needs at startup
// but cannot compute for itself: the bounds of usable physical memory,
// the user heap's base address, the scheduling policy, and the block
// device's sector size.
type Config struct {
	// PhysStart/PhysEnd bound the physical page range the frame
	// allocator may hand out, discovered by bring-up code from the
	// device tree's memory node.
	PhysStart mem.PPN
	PhysEnd   mem.PPN

	// HeapBase is the user virtual address at which every process's sbrk
	// heap starts (handed to the syscall dispatcher). HeapSize is only
	// reported in the boot log; it limits nothing.
	HeapBase uint64
	HeapSize uint64

	// KernelStackSize is the size, in bytes, of each thread's kernel
	// stack, per spec §4.8.
	KernelStackSize int

	// SchedPolicy names the Queue implementation to construct; "fifo" is
	// the only one this kernel ships, kept as a string so a future
	// policy can be selected without an API break.
	SchedPolicy string

	// SectorSize is the block device's native sector size, per spec
	// §4.12. It is configuration, not a constant, because real VirtIO
	// devices report it at negotiation time.
	SectorSize int
}

// Default returns the configuration this kernel's test harness and
// reference cmd/kernel wiring use when no device tree is available.
func Default() Config {
	return Config{
		PhysStart:       mem.PPN(0x80000),
		PhysEnd:         mem.PPN(0x90000),
		HeapBase:        0x90000000,
		HeapSize:        16 << 20,
		KernelStackSize: 64 * 1024,
		SchedPolicy:     "fifo",
		SectorSize:      512,
	}
}
