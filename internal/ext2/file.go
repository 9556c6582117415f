package ext2

import (
	"sync"

	"rv39kernel/internal/errno"
)

// File is an open regular-file or directory handle, installed into a
// process's descriptor table by the syscall layer's openat. Its method
// set matches proc.Fops structurally (Read/Write/Close/Seek/Reopen)
// without this package importing proc, avoiding an import cycle.
type File struct {
	mu     sync.Mutex
	fs     *Ext2
	inode  int
	offset int64
	dirPos int // next unread index into dir
	dir    []DirEntry
}

// OpenHandle resolves path and wraps it in a File ready for
// read/write/seek, per spec §4.15's open_file.
func (fs *Ext2) OpenHandle(path string) (*File, errno.Err_t) {
	id, n, err := fs.walk(path)
	if err != 0 {
		return nil, err
	}
	f := &File{fs: fs, inode: id}
	if n.IsDir() {
		f.dir = fs.L.ReadDir(n)
	}
	return f, 0
}

func (f *File) Read(buf []byte) (int, errno.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.fs.L.readInode(f.inode)
	if n.IsDir() {
		return 0, errno.EISDIR
	}
	got := f.fs.L.readAt(n, uint64(f.offset), buf)
	f.offset += int64(got)
	return got, 0
}

func (f *File) Write(buf []byte) (int, errno.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.fs.L.readInode(f.inode)
	if n.IsDir() {
		return 0, errno.EISDIR
	}
	end := uint64(f.offset) + uint64(len(buf))
	if end > n.Size {
		need := totalBlocks(end) - totalBlocks(n.Size)
		if need > 0 {
			ids, err := f.fs.L.AllocData(need)
			if err != 0 {
				return 0, err
			}
			if err := f.fs.L.increaseTo(n, end, ids); err != 0 {
				f.fs.L.DeallocData(ids)
				return 0, err
			}
		} else {
			n.Size = end
		}
		f.fs.L.writeInode(f.inode, n)
	}
	written := f.fs.L.writeAt(n, uint64(f.offset), buf)
	f.offset += int64(written)
	return written, 0
}

// Close is a no-op: this kernel writes through the block cache on every
// mutation rather than buffering file contents in the handle, so there
// is nothing to flush here beyond what blockcache.Manager.Flush already
// covers at shutdown.
func (f *File) Close() errno.Err_t { return 0 }

func (f *File) Reopen() errno.Err_t { return 0 }

// Seek implements lseek's SEEK_SET/SEEK_CUR/SEEK_END, per spec §6.
func (f *File) Seek(offset int64, whence int) (int64, errno.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case 0: // SEEK_SET
		f.offset = offset
	case 1: // SEEK_CUR
		f.offset += offset
	case 2: // SEEK_END
		n := f.fs.L.readInode(f.inode)
		f.offset = int64(n.Size) + offset
	default:
		return 0, errno.EINVAL
	}
	if f.offset < 0 {
		f.offset = 0
		return 0, errno.EINVAL
	}
	return f.offset, 0
}

// Inode returns the backing inode number, used by fstat.
func (f *File) Inode() int { return f.inode }

// NextDirent returns the next unread directory entry, or ok == false
// once exhausted, for getdents64 to drain one record at a time.
func (f *File) NextDirent() (DirEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirPos >= len(f.dir) {
		return DirEntry{}, false
	}
	e := f.dir[f.dirPos]
	f.dirPos++
	return e, true
}
