// Package ext2 implements C13/C14/C15: the on-disk layout, bitmap
// allocator, inode/data mapping, directory records, and VFS facade for
// an ext2-compatible filesystem over a blockcache.Manager. Grounded on
// biscuit's fs package shape (biscuit/src/fs/super.go for the
// mutex-wrapped superblock singleton, biscuit/src/ufs/ufs.go for the
// Fs_*-style facade operation names), replacing biscuit's own
// from-scratch log-structured filesystem with the ext2 on-disk format
// spec.md §4.13-§4.15 and §6 describe.
package ext2

import (
	"encoding/binary"
	"sync"

	"rv39kernel/internal/blockcache"
	"rv39kernel/internal/blockdev"
	"rv39kernel/internal/errno"
	"rv39kernel/internal/hashtable"
)

// inodeCacheBuckets sizes the open-inode cache; a mounted filesystem's
// working set of hot inodes is expected to be far smaller than this.
const inodeCacheBuckets = 64

const (
	BlockSize = blockcache.BlockSize

	Magic = 0xEF53

	// Inode type bits, stored in Inode.Mode's high nibble, mirroring
	// ext2's S_IFREG/S_IFDIR/S_IFLNK.
	TypeRegular = 0x8000
	TypeDir     = 0x4000
	TypeSymlink = 0xA000
	TypeCharDev = 0x2000
	typeMask    = 0xF000

	RootInode = 1 // ext2 reserves inode 1 for the root, inodes are 1-based
)

// Superblock mirrors the subset of the ext2 on-disk superblock this core
// needs, per spec §4.13/§6: "1024-byte superblock at device offset
// 1024."
type Superblock struct {
	mu sync.Mutex

	Magic          uint32
	InodesCount    uint32
	BlocksCount    uint32
	FreeBlocks     uint32
	FreeInodes     uint32
	ReservedBlocks uint32
	BlocksPerGroup uint32
	InodesPerGroup uint32
	GroupsCount    uint32
	BlockSize      uint32
}

func (sb *Superblock) encode() []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:], sb.Magic)
	binary.LittleEndian.PutUint32(buf[4:], sb.InodesCount)
	binary.LittleEndian.PutUint32(buf[8:], sb.BlocksCount)
	binary.LittleEndian.PutUint32(buf[12:], sb.FreeBlocks)
	binary.LittleEndian.PutUint32(buf[16:], sb.FreeInodes)
	binary.LittleEndian.PutUint32(buf[20:], sb.ReservedBlocks)
	binary.LittleEndian.PutUint32(buf[24:], sb.BlocksPerGroup)
	binary.LittleEndian.PutUint32(buf[28:], sb.InodesPerGroup)
	binary.LittleEndian.PutUint32(buf[32:], sb.GroupsCount)
	binary.LittleEndian.PutUint32(buf[36:], sb.BlockSize)
	return buf
}

func decodeSuperblock(buf []byte) *Superblock {
	return &Superblock{
		Magic:          binary.LittleEndian.Uint32(buf[0:]),
		InodesCount:    binary.LittleEndian.Uint32(buf[4:]),
		BlocksCount:    binary.LittleEndian.Uint32(buf[8:]),
		FreeBlocks:     binary.LittleEndian.Uint32(buf[12:]),
		FreeInodes:     binary.LittleEndian.Uint32(buf[16:]),
		ReservedBlocks: binary.LittleEndian.Uint32(buf[20:]),
		BlocksPerGroup: binary.LittleEndian.Uint32(buf[24:]),
		InodesPerGroup: binary.LittleEndian.Uint32(buf[28:]),
		GroupsCount:    binary.LittleEndian.Uint32(buf[32:]),
		BlockSize:      binary.LittleEndian.Uint32(buf[36:]),
	}
}

// GroupDesc mirrors one ext2 block-group descriptor: the location of
// that group's bitmaps and inode table, plus its free counters, per
// spec §4.13.
type GroupDesc struct {
	mu sync.Mutex

	BlockBitmap  uint32
	InodeBitmap  uint32
	InodeTable   uint32
	FreeBlocks   uint32
	FreeInodes   uint32
	DirsCount    uint32
}

func (g *GroupDesc) encode() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:], g.BlockBitmap)
	binary.LittleEndian.PutUint32(buf[4:], g.InodeBitmap)
	binary.LittleEndian.PutUint32(buf[8:], g.InodeTable)
	binary.LittleEndian.PutUint32(buf[12:], g.FreeBlocks)
	binary.LittleEndian.PutUint32(buf[16:], g.FreeInodes)
	binary.LittleEndian.PutUint32(buf[20:], g.DirsCount)
	return buf
}

func decodeGroupDesc(buf []byte) *GroupDesc {
	return &GroupDesc{
		BlockBitmap: binary.LittleEndian.Uint32(buf[0:]),
		InodeBitmap: binary.LittleEndian.Uint32(buf[4:]),
		InodeTable:  binary.LittleEndian.Uint32(buf[8:]),
		FreeBlocks:  binary.LittleEndian.Uint32(buf[12:]),
		FreeInodes:  binary.LittleEndian.Uint32(buf[16:]),
		DirsCount:   binary.LittleEndian.Uint32(buf[20:]),
	}
}

// Layout is the mounted filesystem's shared state: the superblock and
// group-descriptor array, each behind its own lock, retained alongside
// the block cache manager the allocator and directory/inode code share,
// per spec §4.13: "wrap superblock and each descriptor in its own
// mutex... shared by the allocator and the directory/inode code."
type Layout struct {
	Cache  *blockcache.Manager
	SB     *Superblock
	Groups []*GroupDesc
	// inodes caches decoded on-disk inodes by number, avoiding a
	// block-cache round trip and re-decode on every path-walk step for
	// inodes accessed repeatedly (the root directory, a process's cwd).
	inodes *hashtable.Table[int, *Inode]
}

const sbBlock = 0   // superblock lives in block 0 (byte offset 1024 within it)
const sbByteOffset = 1024
const gdBlock = 1 // group-descriptor array at block 1, per spec §6

// Mount reads the superblock and group-descriptor array off dev and
// validates the magic number, per spec §4.13.
func Mount(dev blockdev.Device) (*Layout, errno.Err_t) {
	cache := blockcache.NewManager(dev)
	b := cache.Get(sbBlock)
	var sbBytes []byte
	b.With(func(d *[BlockSize]byte) {
		sbBytes = append([]byte(nil), d[sbByteOffset:sbByteOffset+40]...)
	})
	cache.Put(b)
	sb := decodeSuperblock(sbBytes)
	if sb.Magic != Magic {
		return nil, errno.EINVAL
	}

	gb := cache.Get(gdBlock)
	groups := make([]*GroupDesc, sb.GroupsCount)
	gb.With(func(d *[BlockSize]byte) {
		for i := range groups {
			groups[i] = decodeGroupDesc(d[i*24 : i*24+24])
		}
	})
	cache.Put(gb)

	return &Layout{Cache: cache, SB: sb, Groups: groups, inodes: hashtable.NewInt[*Inode](inodeCacheBuckets)}, 0
}

// Format initializes a fresh ext2-compatible filesystem over dev with
// a single block group sized to fit the device, and creates the root
// directory inode. Mirrors the role of biscuit's offline mkfs tool
// (biscuit/src/mkfs/mkfs.go) but runs in-process so tests can mount a
// filesystem without a pre-built image.
func Format(dev blockdev.Device) (*Layout, errno.Err_t) {
	totalBlocks := uint32(dev.SectorCount() * blockdev.SectorSize / BlockSize)
	if totalBlocks < 8 {
		return nil, errno.ENOSPC
	}
	inodesCount := uint32(256)
	reserved := uint32(1) // superblock+group-desc block guard

	sb := &Superblock{
		Magic:          Magic,
		InodesCount:    inodesCount,
		BlocksCount:    totalBlocks,
		ReservedBlocks: reserved,
		BlocksPerGroup: totalBlocks,
		InodesPerGroup: inodesCount,
		GroupsCount:    1,
		BlockSize:      BlockSize,
	}

	// Layout, in block units: 0 = superblock, 1 = group descriptors,
	// 2 = block bitmap, 3 = inode bitmap, 4.. = inode table, then data.
	inodeTableBlocks := (inodesCount + inodesPerBlock - 1) / inodesPerBlock
	inodeTableStart := uint32(4)
	dataStart := inodeTableStart + inodeTableBlocks
	freeDataBlocks := totalBlocks - dataStart

	g := &GroupDesc{
		BlockBitmap: 2,
		InodeBitmap: 3,
		InodeTable:  inodeTableStart,
		FreeBlocks:  freeDataBlocks,
		FreeInodes:  inodesCount - 1, // root consumes inode 1
	}
	sb.FreeBlocks = freeDataBlocks
	sb.FreeInodes = inodesCount - 1

	cache := blockcache.NewManager(dev)
	l := &Layout{Cache: cache, SB: sb, Groups: []*GroupDesc{g}, inodes: hashtable.NewInt[*Inode](inodeCacheBuckets)}
	l.writeSuperblock()
	l.writeGroupDescs()

	// mark inode 1 used in the inode bitmap
	ib := cache.Get(int(g.InodeBitmap))
	ib.WithMut(func(d *[BlockSize]byte) { d[0] |= 1 })
	cache.Put(ib)

	// mark the metadata blocks (0..dataStart-1) and root's single data
	// block (block dataStart) used
	bb := cache.Get(int(g.BlockBitmap))
	bb.WithMut(func(d *[BlockSize]byte) {
		for i := 0; i <= int(dataStart); i++ {
			bitmapSet(d, i)
		}
	})
	cache.Put(bb)
	g.FreeBlocks--
	sb.FreeBlocks--
	l.writeSuperblock()
	l.writeGroupDescs()

	root := &Inode{Mode: TypeDir, LinksCount: 2, Size: 0}
	root.Blocks[0] = dataStart
	l.writeInode(RootInode, root)
	initDirBlock(cache, dataStart, RootInode, RootInode)
	root.Size = BlockSize
	l.writeInode(RootInode, root)

	return l, 0
}

func (l *Layout) writeSuperblock() {
	b := l.Cache.Get(sbBlock)
	b.WithMut(func(d *[BlockSize]byte) {
		copy(d[sbByteOffset:], l.SB.encode())
	})
	l.Cache.Put(b)
}

func (l *Layout) writeGroupDescs() {
	b := l.Cache.Get(gdBlock)
	b.WithMut(func(d *[BlockSize]byte) {
		for i, g := range l.Groups {
			copy(d[i*24:], g.encode())
		}
	})
	l.Cache.Put(b)
}

// Flush syncs every dirty cached block, per spec §4.12/§6.
func (l *Layout) Flush() {
	l.writeSuperblock()
	l.writeGroupDescs()
	l.Cache.Flush()
}
