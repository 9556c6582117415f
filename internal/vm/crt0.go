package vm

import (
	"encoding/binary"

	"rv39kernel/internal/klog"
	"rv39kernel/internal/mem"
	"rv39kernel/internal/util"
)

// writeBytes writes data starting at va into seg's already-mapped frames,
// panicking if the write would cross outside the segment (the stack and
// ELF segments are eagerly mapped, so this never needs to fault pages
// in).
func (as *AddressSpace) writeBytes(seg *Segment, va mem.VA, data []byte) {
	off := 0
	for off < len(data) {
		vpn := mem.VA(uint64(va) + uint64(off)).VPN()
		ppn, ok := seg.Frames[vpn]
		if !ok {
			klog.Fatal("vm: writeBytes onto unmapped vpn")
		}
		fr := as.frames.Dmap(ppn)
		pageOff := int(mem.Offset(uint64(va) + uint64(off)))
		n := copy(fr[pageOff:], data[off:])
		off += n
	}
}

// PushCRT0 lays out the initial user stack image per the psABI
// convention: argc, argv[] (NULL-terminated), envp[] (NULL-terminated),
// auxv (NULL-terminated), with their backing strings placed above. It
// returns the resulting 16-byte-aligned stack pointer, per spec §4.5.
func (as *AddressSpace) PushCRT0(stack *Segment, stackTop mem.VA, argv, envp []string) mem.VA {
	as.Lock()
	defer as.Unlock()

	strs := make([]string, 0, len(argv)+len(envp))
	strs = append(strs, argv...)
	strs = append(strs, envp...)

	cur := int64(stackTop)
	ptrs := make([]uint64, len(strs))
	for i := len(strs) - 1; i >= 0; i-- {
		s := strs[i]
		cur -= int64(len(s) + 1)
		buf := make([]byte, len(s)+1)
		copy(buf, s)
		as.writeBytes(stack, mem.VA(cur), buf)
		ptrs[i] = uint64(cur)
	}
	itemsTop := util.Rounddown(cur, 8)

	nargv := len(argv)
	nenvp := len(envp)
	// argc(1) + argv ptrs + NULL + envp ptrs + NULL + auxv NULL pair(2)
	words := 1 + (nargv + 1) + (nenvp + 1) + 2
	itemsLen := int64(words * 8)
	itemsBase := util.Rounddown(itemsTop-itemsLen, 16)

	buf := make([]byte, itemsLen)
	w := func(i int, v uint64) { binary.LittleEndian.PutUint64(buf[i*8:], v) }
	w(0, uint64(nargv))
	idx := 1
	for i := 0; i < nargv; i++ {
		w(idx, ptrs[i])
		idx++
	}
	w(idx, 0) // argv NULL terminator
	idx++
	for i := 0; i < nenvp; i++ {
		w(idx, ptrs[nargv+i])
		idx++
	}
	w(idx, 0) // envp NULL terminator
	idx++
	w(idx, 0) // AT_NULL type
	idx++
	w(idx, 0) // AT_NULL value

	as.writeBytes(stack, mem.VA(itemsBase), buf)
	return mem.VA(itemsBase)
}
