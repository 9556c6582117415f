package ext2

import (
	"encoding/binary"

	"rv39kernel/internal/errno"
)

// Block-mapping constants for 4 KiB blocks, per spec §4.14.
const (
	Direct       = 12
	blockIDBytes = 4
	Indirect     = BlockSize / blockIDBytes // 1024
	IndirectBound = Direct + Indirect        // 1036
	Double        = Indirect * Indirect      // 1024^2
	DoubleBound   = IndirectBound + Double

	// symlink targets <= this length are stored in-place at bytes 40..100
	// of the inode, per spec §4.14.
	maxInlineSymlink = 60
	symlinkInlineOff = 40
)

// Inode mirrors the on-disk ext2 inode this core needs: mode, link
// count, size, and 15 block pointers (12 direct, 1 indirect, 1
// double-indirect, 1 unused triple-indirect slot retained for on-disk
// shape compatibility though spec §4.14 says triple-indirect is
// unsupported).
type Inode struct {
	Mode       uint16
	LinksCount uint16
	Size       uint64
	Blocks     [15]uint32
	// Inline holds a short symlink target; only meaningful when
	// Mode&typeMask == TypeSymlink and Size <= maxInlineSymlink.
	Inline [maxInlineSymlink]byte
}

func (n *Inode) IsDir() bool     { return n.Mode&typeMask == TypeDir }
func (n *Inode) IsRegular() bool { return n.Mode&typeMask == TypeRegular }
func (n *Inode) IsSymlink() bool { return n.Mode&typeMask == TypeSymlink }
func (n *Inode) IsCharDev() bool { return n.Mode&typeMask == TypeCharDev }

const onDiskInodeSize = 2 + 2 + 8 + 15*4 + maxInlineSymlink
const inodesPerBlock = BlockSize / onDiskInodeSize

func (n *Inode) encode() []byte {
	buf := make([]byte, onDiskInodeSize)
	binary.LittleEndian.PutUint16(buf[0:], n.Mode)
	binary.LittleEndian.PutUint16(buf[2:], n.LinksCount)
	binary.LittleEndian.PutUint64(buf[4:], n.Size)
	off := 12
	for i, b := range n.Blocks {
		binary.LittleEndian.PutUint32(buf[off+i*4:], b)
	}
	if n.IsSymlink() {
		copy(buf[symlinkInlineOff:], n.Inline[:])
	}
	return buf
}

func decodeInode(buf []byte) *Inode {
	n := &Inode{}
	n.Mode = binary.LittleEndian.Uint16(buf[0:])
	n.LinksCount = binary.LittleEndian.Uint16(buf[2:])
	n.Size = binary.LittleEndian.Uint64(buf[4:])
	off := 12
	for i := range n.Blocks {
		n.Blocks[i] = binary.LittleEndian.Uint32(buf[off+i*4:])
	}
	copy(n.Inline[:], buf[symlinkInlineOff:symlinkInlineOff+maxInlineSymlink])
	return n
}

// inodeLocation returns the block holding inode id and id's byte offset
// within that block, per spec §4.13's group/inode-table addressing.
func (l *Layout) inodeLocation(id int) (block int, off int) {
	idx := id - 1 // inodes are 1-based
	group := idx / int(l.SB.InodesPerGroup)
	within := idx % int(l.SB.InodesPerGroup)
	g := l.Groups[group]
	block = int(g.InodeTable) + within/inodesPerBlock
	off = (within % inodesPerBlock) * onDiskInodeSize
	return
}

func (l *Layout) readInode(id int) *Inode {
	if n, ok := l.inodes.Get(id); ok {
		return n
	}
	block, off := l.inodeLocation(id)
	b := l.Cache.Get(block)
	var n *Inode
	b.With(func(d *[BlockSize]byte) { n = decodeInode(d[off : off+onDiskInodeSize]) })
	l.Cache.Put(b)
	l.inodes.Set(id, n)
	return n
}

func (l *Layout) writeInode(id int, n *Inode) {
	block, off := l.inodeLocation(id)
	b := l.Cache.Get(block)
	b.WithMut(func(d *[BlockSize]byte) { copy(d[off:], n.encode()) })
	l.Cache.Put(b)
	l.inodes.Set(id, n)
}

func (l *Layout) readIndirect(blockID uint32) [Indirect]uint32 {
	var out [Indirect]uint32
	b := l.Cache.Get(int(blockID))
	b.With(func(d *[BlockSize]byte) {
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(d[i*4:])
		}
	})
	l.Cache.Put(b)
	return out
}

func (l *Layout) writeIndirectEntry(blockID uint32, idx int, val uint32) {
	b := l.Cache.Get(int(blockID))
	b.WithMut(func(d *[BlockSize]byte) { binary.LittleEndian.PutUint32(d[idx*4:], val) })
	l.Cache.Put(b)
}

// blockIDFor implements spec §4.14's block_id_for: translate an inode's
// logical block index into the on-disk block id, 0 if never allocated.
func (l *Layout) blockIDFor(n *Inode, innerIdx int) uint32 {
	switch {
	case innerIdx < Direct:
		return n.Blocks[innerIdx]
	case innerIdx < IndirectBound:
		ind := l.readIndirect(n.Blocks[Direct])
		return ind[innerIdx-Direct]
	case innerIdx < DoubleBound:
		rel := innerIdx - IndirectBound
		outer := l.readIndirect(n.Blocks[Direct+1])
		inner := l.readIndirect(outer[rel/Indirect])
		return inner[rel%Indirect]
	default:
		return 0
	}
}

// totalBlocks implements spec §4.14's total_blocks: the number of
// blocks (data + indirect-pointer blocks) an inode of the given size
// occupies.
func totalBlocks(size uint64) int {
	if size == 0 {
		return 0
	}
	dataBlocks := int((size + BlockSize - 1) / BlockSize)
	n := dataBlocks
	if dataBlocks > Direct {
		n++ // the indirect block itself
	}
	if dataBlocks > IndirectBound {
		rem := dataBlocks - IndirectBound
		doubleIndirectCount := (rem + Indirect - 1) / Indirect
		n += 1 + doubleIndirectCount // double-indirect block + each inner indirect block
	}
	return n
}

// increaseTo implements spec §4.14's increase_to: consume exactly
// totalBlocks(newSize) - totalBlocks(oldSize) block ids from newBlocks
// in canonical fill order, allocating indirect-level blocks from
// newBlocks on first use.
func (l *Layout) increaseTo(n *Inode, newSize uint64, newBlocks []uint32) errno.Err_t {
	oldDataBlocks := int((n.Size + BlockSize - 1) / BlockSize)
	newDataBlocks := int((newSize + BlockSize - 1) / BlockSize)
	if newDataBlocks > DoubleBound {
		return errno.ENOSPC
	}
	next := 0
	take := func() uint32 {
		v := newBlocks[next]
		next++
		return v
	}

	for idx := oldDataBlocks; idx < newDataBlocks; idx++ {
		switch {
		case idx < Direct:
			n.Blocks[idx] = take()
		case idx < IndirectBound:
			if n.Blocks[Direct] == 0 {
				n.Blocks[Direct] = take()
			}
			l.writeIndirectEntry(n.Blocks[Direct], idx-Direct, take())
		default:
			rel := idx - IndirectBound
			if n.Blocks[Direct+1] == 0 {
				n.Blocks[Direct+1] = take()
			}
			outer := l.readIndirect(n.Blocks[Direct+1])
			outerIdx := rel / Indirect
			if outer[outerIdx] == 0 {
				outer[outerIdx] = take()
				l.writeIndirectEntry(n.Blocks[Direct+1], outerIdx, outer[outerIdx])
			}
			l.writeIndirectEntry(outer[outerIdx], rel%Indirect, take())
		}
	}
	n.Size = newSize
	return 0
}

// decreaseTo implements spec §4.14's decrease_to: return the list of
// blocks to free, in the inverse traversal, including indirect-level
// blocks themselves when they become empty.
func (l *Layout) decreaseTo(n *Inode, newSize uint64) []uint32 {
	oldDataBlocks := int((n.Size + BlockSize - 1) / BlockSize)
	newDataBlocks := int((newSize + BlockSize - 1) / BlockSize)
	var freed []uint32

	for idx := oldDataBlocks - 1; idx >= newDataBlocks; idx-- {
		switch {
		case idx < Direct:
			if n.Blocks[idx] != 0 {
				freed = append(freed, n.Blocks[idx])
				n.Blocks[idx] = 0
			}
		case idx < IndirectBound:
			id := l.blockIDFor(n, idx)
			if id != 0 {
				freed = append(freed, id)
			}
			if idx == Direct && n.Blocks[Direct] != 0 {
				freed = append(freed, n.Blocks[Direct])
				n.Blocks[Direct] = 0
			}
		default:
			rel := idx - IndirectBound
			id := l.blockIDFor(n, idx)
			if id != 0 {
				freed = append(freed, id)
			}
			if rel%Indirect == 0 {
				outer := l.readIndirect(n.Blocks[Direct+1])
				outerIdx := rel / Indirect
				if outer[outerIdx] != 0 {
					freed = append(freed, outer[outerIdx])
				}
			}
			if idx == IndirectBound && n.Blocks[Direct+1] != 0 {
				freed = append(freed, n.Blocks[Direct+1])
				n.Blocks[Direct+1] = 0
			}
		}
	}
	n.Size = newSize
	return freed
}

// readAt implements spec §4.14's read_at: clip to file size, iterate
// block by block.
func (l *Layout) readAt(n *Inode, offset uint64, buf []byte) int {
	if offset >= n.Size {
		return 0
	}
	if offset+uint64(len(buf)) > n.Size {
		buf = buf[:n.Size-offset]
	}
	total := 0
	for total < len(buf) {
		idx := int((offset + uint64(total)) / BlockSize)
		inBlockOff := int((offset + uint64(total)) % BlockSize)
		blockID := l.blockIDFor(n, idx)
		cnt := len(buf) - total
		if cnt > BlockSize-inBlockOff {
			cnt = BlockSize - inBlockOff
		}
		if blockID == 0 {
			for i := 0; i < cnt; i++ {
				buf[total+i] = 0
			}
		} else {
			b := l.Cache.Get(int(blockID))
			b.With(func(d *[BlockSize]byte) { copy(buf[total:total+cnt], d[inBlockOff:inBlockOff+cnt]) })
			l.Cache.Put(b)
		}
		total += cnt
	}
	return total
}

// writeAt implements spec §4.14's write_at onto an already pre-sized
// file (the caller must increaseTo first if the write extends size).
func (l *Layout) writeAt(n *Inode, offset uint64, buf []byte) int {
	total := 0
	for total < len(buf) {
		idx := int((offset + uint64(total)) / BlockSize)
		inBlockOff := int((offset + uint64(total)) % BlockSize)
		blockID := l.blockIDFor(n, idx)
		if blockID == 0 {
			break
		}
		cnt := len(buf) - total
		if cnt > BlockSize-inBlockOff {
			cnt = BlockSize - inBlockOff
		}
		b := l.Cache.Get(int(blockID))
		b.WithMut(func(d *[BlockSize]byte) { copy(d[inBlockOff:inBlockOff+cnt], buf[total:total+cnt]) })
		l.Cache.Put(b)
		total += cnt
	}
	return total
}
