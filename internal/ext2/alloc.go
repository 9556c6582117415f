package ext2

import (
	"math/bits"

	"rv39kernel/internal/errno"
)

// bitmapFindFree scans a bitmap block for the first 0 bit, complementing
// each word and using a trailing-zero count to jump to it, per spec
// §4.13: "required for throughput." Returns -1 if the block is full.
func bitmapFindFree(d *[BlockSize]byte, limit int) int {
	for wordIdx := 0; wordIdx*8 < BlockSize; wordIdx++ {
		base := wordIdx * 8
		if base >= limit/8+1 {
			break
		}
		var word uint64
		for i := 0; i < 8 && base+i < BlockSize; i++ {
			word |= uint64(d[base+i]) << (8 * i)
		}
		comp := ^word
		if comp == 0 {
			continue
		}
		bit := bits.TrailingZeros64(comp)
		idx := base*8 + bit
		if idx >= limit {
			return -1
		}
		return idx
	}
	return -1
}

func bitmapSet(d *[BlockSize]byte, idx int) {
	d[idx/8] |= 1 << uint(idx%8)
}

func bitmapClear(d *[BlockSize]byte, idx int) {
	d[idx/8] &^= 1 << uint(idx%8)
}

// AllocInode implements spec §4.13's alloc_inode: walk groups until one
// with free inodes, claim the first 0-bit in its inode bitmap.
func (l *Layout) AllocInode(isDir bool) (int, errno.Err_t) {
	l.SB.mu.Lock()
	if l.SB.FreeInodes == 0 {
		l.SB.mu.Unlock()
		return 0, errno.ENOSPC
	}
	l.SB.FreeInodes--
	l.SB.mu.Unlock()

	for gi, g := range l.Groups {
		g.mu.Lock()
		if g.FreeInodes == 0 {
			g.mu.Unlock()
			continue
		}
		b := l.Cache.Get(int(g.InodeBitmap))
		var bit int
		b.WithMut(func(d *[BlockSize]byte) {
			bit = bitmapFindFree(d, int(l.SB.InodesPerGroup))
			if bit >= 0 {
				bitmapSet(d, bit)
			}
		})
		l.Cache.Put(b)
		if bit < 0 {
			g.mu.Unlock()
			continue
		}
		g.FreeInodes--
		if isDir {
			g.DirsCount++
		}
		g.mu.Unlock()
		l.writeGroupDescs()
		l.writeSuperblock()
		return gi*int(l.SB.InodesPerGroup) + bit + 1, 0
	}
	l.SB.mu.Lock()
	l.SB.FreeInodes++ // walk found nothing; restore the optimistic decrement
	l.SB.mu.Unlock()
	return 0, errno.ENOSPC
}

// DeallocInode implements spec §4.13's dealloc_inode, inverting
// AllocInode.
func (l *Layout) DeallocInode(id int, isDir bool) {
	idx := id - 1
	gi := idx / int(l.SB.InodesPerGroup)
	within := idx % int(l.SB.InodesPerGroup)
	g := l.Groups[gi]

	g.mu.Lock()
	b := l.Cache.Get(int(g.InodeBitmap))
	b.WithMut(func(d *[BlockSize]byte) { bitmapClear(d, within) })
	l.Cache.Put(b)
	g.FreeInodes++
	if isDir && g.DirsCount > 0 {
		g.DirsCount--
	}
	g.mu.Unlock()

	l.SB.mu.Lock()
	l.SB.FreeInodes++
	l.SB.mu.Unlock()
	l.writeGroupDescs()
	l.writeSuperblock()
	l.inodes.Del(id)
}

// AllocData implements spec §4.13's alloc_data: collect n block ids
// across groups, each contributing as many free blocks as it can.
func (l *Layout) AllocData(n int) ([]uint32, errno.Err_t) {
	l.SB.mu.Lock()
	avail := l.SB.FreeBlocks
	if l.SB.ReservedBlocks >= avail || avail-l.SB.ReservedBlocks < uint32(n) {
		l.SB.mu.Unlock()
		return nil, errno.ENOSPC
	}
	l.SB.mu.Unlock()

	var out []uint32
	for gi, g := range l.Groups {
		if len(out) >= n {
			break
		}
		g.mu.Lock()
		b := l.Cache.Get(int(g.BlockBitmap))
		for len(out) < n && g.FreeBlocks > 0 {
			var bit int
			b.WithMut(func(d *[BlockSize]byte) {
				bit = bitmapFindFree(d, int(l.SB.BlocksPerGroup))
				if bit >= 0 {
					bitmapSet(d, bit)
				}
			})
			if bit < 0 {
				break
			}
			g.FreeBlocks--
			globalID := uint32(gi)*l.SB.BlocksPerGroup + uint32(bit)
			out = append(out, globalID)
		}
		l.Cache.Put(b)
		g.mu.Unlock()
	}
	if len(out) < n {
		l.DeallocData(out)
		return nil, errno.ENOSPC
	}
	l.SB.mu.Lock()
	l.SB.FreeBlocks -= uint32(n)
	l.SB.mu.Unlock()
	l.writeGroupDescs()
	l.writeSuperblock()
	return out, 0
}

// DeallocData implements spec §4.13's dealloc_data: partition the ids by
// group (in the order given, without sorting) and clear their bits.
func (l *Layout) DeallocData(ids []uint32) {
	byGroup := make(map[int][]uint32)
	for _, id := range ids {
		gi := int(id / l.SB.BlocksPerGroup)
		within := id % l.SB.BlocksPerGroup
		byGroup[gi] = append(byGroup[gi], within)
	}
	for gi, bits := range byGroup {
		g := l.Groups[gi]
		g.mu.Lock()
		b := l.Cache.Get(int(g.BlockBitmap))
		b.WithMut(func(d *[BlockSize]byte) {
			for _, bit := range bits {
				bitmapClear(d, int(bit))
			}
		})
		l.Cache.Put(b)
		g.FreeBlocks += uint32(len(bits))
		g.mu.Unlock()
	}
	l.SB.mu.Lock()
	l.SB.FreeBlocks += uint32(len(ids))
	l.SB.mu.Unlock()
	l.writeGroupDescs()
	l.writeSuperblock()
}
