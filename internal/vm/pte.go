// Package vm implements C3 (Sv39 page table), C4 (segment), and C5
// (address space), grounded on biscuit/src/vm/as.go's Vm_t and
// biscuit/src/mem/mem.go's PTE bit conventions, adapted from biscuit's
// x86-64 4-level/COW-via-spare-bits scheme to RISC-V Sv39's 3-level,
// 8-flag-bit PTE format that spec.md §3 specifies directly.
package vm

import "rv39kernel/internal/mem"

// PTE is one raw Sv39 page-table entry: { reserved(10) | PPN(44) | RSW(2) |
// D A G U X W R V (8) }.
type PTE uint64

// Flag bits, per spec §3.
const (
	FlagV Flag = 1 << 0 // valid
	FlagR Flag = 1 << 1 // readable
	FlagW Flag = 1 << 2 // writable
	FlagX Flag = 1 << 3 // executable
	FlagU Flag = 1 << 4 // user-accessible
	FlagG Flag = 1 << 5 // global
	FlagA Flag = 1 << 6 // accessed
	FlagD Flag = 1 << 7 // dirty

	// FlagCOW steals the first RSW bit (bit 8) to mark a writable-looking
	// page that is actually a shared, not-yet-copied CoW page; the page
	// itself is mapped without FlagW so a store faults and triggers
	// realloc_one. Grounded on biscuit's PTE_COW, which performs the
	// identical trick on x86-64's ignored PTE bits.
	FlagCOW Flag = 1 << 8
)

// Flag is a bitmask of PTE permission/state bits.
type Flag uint64

const (
	ppnShift = 10
	ppnMask  = (uint64(1)<<44 - 1) << ppnShift
)

func mkPTE(ppn mem.PPN, f Flag) PTE {
	return PTE(uint64(ppn)<<ppnShift | uint64(f))
}

func (p PTE) valid() bool    { return p&PTE(FlagV) != 0 }
func (p PTE) leaf() bool     { return p&(PTE(FlagR)|PTE(FlagW)|PTE(FlagX)) != 0 }
func (p PTE) ppn() mem.PPN   { return mem.PPN((uint64(p) & ppnMask) >> ppnShift) }
func (p PTE) flags() Flag    { return Flag(p) &^ Flag(ppnMask) }
func (p PTE) has(f Flag) bool { return Flag(p)&f == f }
