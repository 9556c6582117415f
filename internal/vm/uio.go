package vm

import (
	"rv39kernel/internal/errno"
	"rv39kernel/internal/mem"
)

// CopyIn reads n bytes starting at va out of the user address space into
// a freshly allocated []byte, translating one page at a time. Grounded
// on spec §4.11's translate_byte_buffer: pointer arguments from user
// mode are always staged through the current page table before the
// kernel touches them.
func (as *AddressSpace) CopyIn(va mem.VA, n int) ([]byte, errno.Err_t) {
	as.Lock()
	defer as.Unlock()
	out := make([]byte, n)
	off := 0
	for off < n {
		cur := mem.VA(uint64(va) + uint64(off))
		pte, ok := as.PT.Translate(cur.VPN())
		if !ok {
			return nil, errno.EFAULT
		}
		fr := as.frames.Dmap(pte.ppn())
		pageOff := int(mem.Offset(uint64(cur)))
		cnt := copy(out[off:], fr[pageOff:])
		off += cnt
	}
	return out, 0
}

// CopyOut writes data into the user address space at va, translating
// one page at a time, per translated_refmut's write-back half.
func (as *AddressSpace) CopyOut(va mem.VA, data []byte) errno.Err_t {
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < len(data) {
		cur := mem.VA(uint64(va) + uint64(off))
		pte, ok := as.PT.Translate(cur.VPN())
		if !ok {
			return errno.EFAULT
		}
		fr := as.frames.Dmap(pte.ppn())
		pageOff := int(mem.Offset(uint64(cur)))
		cnt := copy(fr[pageOff:], data[off:])
		off += cnt
	}
	return 0
}

// CopyInCString reads a NUL-terminated string starting at va, per spec
// §4.11's translated_user_cstr, capped at maxLen to bound kernel work on
// a malicious or corrupt pointer.
func (as *AddressSpace) CopyInCString(va mem.VA, maxLen int) (string, errno.Err_t) {
	as.Lock()
	defer as.Unlock()
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		cur := mem.VA(uint64(va) + uint64(i))
		pte, ok := as.PT.Translate(cur.VPN())
		if !ok {
			return "", errno.EFAULT
		}
		fr := as.frames.Dmap(pte.ppn())
		b := fr[mem.Offset(uint64(cur))]
		if b == 0 {
			return string(buf), 0
		}
		buf = append(buf, b)
	}
	return "", errno.ENAMETOOLONG
}
