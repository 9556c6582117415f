package ext2

import (
	"encoding/binary"

	"rv39kernel/internal/blockcache"
	"rv39kernel/internal/errno"
)

const dirEntryHeader = 8 // inode(4) + rec_len(2) + name_len(1) + file_type(1)

// DirEntry is one directory record, per spec §4.15: "Each record's
// regular_len = ceil((8 + name_len), 4)... record_len >= regular_len is
// the slot size advertised for the next record."
type DirEntry struct {
	Inode    uint32 // 0 marks a free/deleted slot
	RecLen   uint16
	FileType uint8
	Name     string
}

func regularLen(nameLen int) int {
	return ((dirEntryHeader + nameLen + 3) / 4) * 4
}

func parseDirBlock(d *[BlockSize]byte) []DirEntry {
	var out []DirEntry
	off := 0
	for off+dirEntryHeader <= BlockSize {
		inode := binary.LittleEndian.Uint32(d[off:])
		recLen := binary.LittleEndian.Uint16(d[off+4:])
		nameLen := int(d[off+6])
		fileType := d[off+7]
		if recLen == 0 || int(recLen) < dirEntryHeader {
			break
		}
		name := ""
		if nameLen > 0 && off+dirEntryHeader+nameLen <= BlockSize {
			name = string(d[off+dirEntryHeader : off+dirEntryHeader+nameLen])
		}
		out = append(out, DirEntry{Inode: inode, RecLen: recLen, FileType: fileType, Name: name})
		off += int(recLen)
	}
	return out
}

func encodeDirBlock(entries []DirEntry) [BlockSize]byte {
	var d [BlockSize]byte
	off := 0
	for _, e := range entries {
		binary.LittleEndian.PutUint32(d[off:], e.Inode)
		binary.LittleEndian.PutUint16(d[off+4:], e.RecLen)
		d[off+6] = byte(len(e.Name))
		d[off+7] = e.FileType
		copy(d[off+dirEntryHeader:], e.Name)
		off += int(e.RecLen)
	}
	return d
}

// initDirBlock writes a fresh directory block whose only two records
// are "." and "..", per spec §4.15's create_dir.
func initDirBlock(cache *blockcache.Manager, blockID uint32, self, parent int) {
	dotLen := regularLen(1)
	entries := []DirEntry{
		{Inode: uint32(self), RecLen: uint16(dotLen), FileType: dirFileTypeDir, Name: "."},
		{Inode: uint32(parent), RecLen: uint16(BlockSize - dotLen), FileType: dirFileTypeDir, Name: ".."},
	}
	buf := encodeDirBlock(entries)
	b := cache.Get(int(blockID))
	b.WithMut(func(d *[BlockSize]byte) { *d = buf })
	cache.Put(b)
}

// File-type tags stored in a directory entry's file_type byte, mirroring
// ext2's DT_* constants.
const (
	dirFileTypeRegular = 1
	dirFileTypeDir     = 2
	dirFileTypeCharDev = 3
	dirFileTypeSymlink = 7
)

// ReadDir implements spec §4.15's read_dir: list every live (Inode != 0)
// entry across all of the directory inode's data blocks.
func (l *Layout) ReadDir(n *Inode) []DirEntry {
	var out []DirEntry
	nblocks := int((n.Size + BlockSize - 1) / BlockSize)
	for i := 0; i < nblocks; i++ {
		blockID := l.blockIDFor(n, i)
		if blockID == 0 {
			continue
		}
		b := l.Cache.Get(int(blockID))
		var entries []DirEntry
		b.With(func(d *[BlockSize]byte) { entries = parseDirBlock(d) })
		l.Cache.Put(b)
		for _, e := range entries {
			if e.Inode != 0 && e.Name != "" {
				out = append(out, e)
			}
		}
	}
	return out
}

// Lookup finds name among n's directory entries.
func (l *Layout) Lookup(n *Inode, name string) (int, bool) {
	for _, e := range l.ReadDir(n) {
		if e.Name == name {
			return int(e.Inode), true
		}
	}
	return 0, false
}

// InsertEntry implements spec §4.15's insert algorithm: find a record
// whose slack fits the new entry, narrow it and place the new record in
// the freed tail; append a fresh block if nothing fits.
func (l *Layout) InsertEntry(dirInode int, n *Inode, name string, childInode int, fileType uint8) errno.Err_t {
	if len(name) > 255 {
		return errno.ENAMETOOLONG
	}
	needed := regularLen(len(name))
	nblocks := int((n.Size + BlockSize - 1) / BlockSize)

	for i := 0; i < nblocks; i++ {
		blockID := l.blockIDFor(n, i)
		if blockID == 0 {
			continue
		}
		b := l.Cache.Get(int(blockID))
		var entries []DirEntry
		b.With(func(d *[BlockSize]byte) { entries = parseDirBlock(d) })
		placed := false
		for idx, e := range entries {
			if e.Inode == 0 && int(e.RecLen) >= needed {
				entries[idx] = DirEntry{Inode: uint32(childInode), RecLen: e.RecLen, FileType: fileType, Name: name}
				placed = true
				break
			}
			used := regularLen(len(e.Name))
			slack := int(e.RecLen) - used
			if e.Inode != 0 && slack >= needed {
				entries[idx].RecLen = uint16(used)
				newEntry := DirEntry{Inode: uint32(childInode), RecLen: uint16(slack), FileType: fileType, Name: name}
				tail := append([]DirEntry{newEntry}, entries[idx+1:]...)
				entries = append(entries[:idx+1], tail...)
				placed = true
				break
			}
		}
		if placed {
			buf := encodeDirBlock(entries)
			b.WithMut(func(d *[BlockSize]byte) { *d = buf })
			l.Cache.Put(b)
			return 0
		}
		l.Cache.Put(b)
	}

	// nothing fit: append a fresh block
	ids, err := l.AllocData(1)
	if err != 0 {
		return errno.ENOSPC
	}
	if err := l.increaseTo(n, n.Size+BlockSize, ids); err != 0 {
		l.DeallocData(ids)
		return err
	}
	newBlockID := l.blockIDFor(n, nblocks)
	entries := []DirEntry{{Inode: uint32(childInode), RecLen: BlockSize, FileType: fileType, Name: name}}
	buf := encodeDirBlock(entries)
	b := l.Cache.Get(int(newBlockID))
	b.WithMut(func(d *[BlockSize]byte) { *d = buf })
	l.Cache.Put(b)
	l.writeInode(dirInode, n)
	return 0
}

// RemoveEntry implements spec §4.15's remove algorithm: coalesce into
// the previous record of the same block, or promote the next record
// into a removed record's slot when it sits at the block's start.
func (l *Layout) RemoveEntry(n *Inode, name string) errno.Err_t {
	nblocks := int((n.Size + BlockSize - 1) / BlockSize)
	for i := 0; i < nblocks; i++ {
		blockID := l.blockIDFor(n, i)
		if blockID == 0 {
			continue
		}
		b := l.Cache.Get(int(blockID))
		var entries []DirEntry
		b.With(func(d *[BlockSize]byte) { entries = parseDirBlock(d) })
		target := -1
		for idx, e := range entries {
			if e.Inode != 0 && e.Name == name {
				target = idx
				break
			}
		}
		if target < 0 {
			l.Cache.Put(b)
			continue
		}
		if target > 0 {
			entries[target-1].RecLen += entries[target].RecLen
			entries = append(entries[:target], entries[target+1:]...)
		} else if len(entries) > 1 {
			entries[target].Inode = entries[target+1].Inode
			entries[target].FileType = entries[target+1].FileType
			entries[target].Name = entries[target+1].Name
			entries[target].RecLen += entries[target+1].RecLen
			entries = append(entries[:target+1], entries[target+2:]...)
		} else {
			entries[target] = DirEntry{Inode: 0, RecLen: entries[target].RecLen}
		}
		buf := encodeDirBlock(entries)
		b.WithMut(func(d *[BlockSize]byte) { *d = buf })
		l.Cache.Put(b)
		return 0
	}
	return errno.ENOENT
}
