package mem

import "unsafe"

// uintptrOf exposes a byte's address for arena membership arithmetic in
// BitmapHeap.Dealloc, matching the teacher's direct use of unsafe.Pointer
// for address math (mem.Dmap, util.Readn/Writen).
func uintptrOf(b *byte) uintptr {
	return uintptr(unsafe.Pointer(b))
}
