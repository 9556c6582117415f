package ext2

import (
	"strings"

	"rv39kernel/internal/errno"
)

const maxSymlinkDepth = 40

// Ext2 is the VFS facade spec §4.15 names: read_dir, exists, metadata,
// link, symlink, open_file, create_file, create_dir, remove_file,
// remove_dir, flush. Grounded on ufs.Ufs_t's Fs_*-prefixed method shape
// (biscuit/src/ufs/ufs.go), renamed to the exact operation names
// spec.md gives since those names are the contract, not biscuit's.
type Ext2 struct {
	L *Layout
}

func NewExt2(l *Layout) *Ext2 { return &Ext2{L: l} }

// Metadata is the subset of an inode's fields the syscall-level fstat
// needs, grounded on stat.Stat_t's field set (biscuit/src/stat/stat.go).
type Metadata struct {
	Inode      int
	Mode       uint16
	Size       uint64
	LinksCount uint16
}

func splitComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitParent(path string) (dir, base string) {
	comps := splitComponents(path)
	if len(comps) == 0 {
		return "/", ""
	}
	base = comps[len(comps)-1]
	dir = "/" + strings.Join(comps[:len(comps)-1], "/")
	return dir, base
}

func (fs *Ext2) readSymlinkTarget(n *Inode) string {
	return string(n.Inline[:n.Size])
}

// walk implements spec §4.15's walk algorithm: symlinks are resolved
// before a component's current inode is treated as a directory, and a
// symlink as the path's final component is resolved too.
func (fs *Ext2) walk(path string) (inode int, node *Inode, err errno.Err_t) {
	return fs.walkFrom(RootInode, splitComponents(path), 0)
}

func (fs *Ext2) walkFrom(start int, comps []string, depth int) (int, *Inode, errno.Err_t) {
	if depth > maxSymlinkDepth {
		return 0, nil, errno.ELOOP
	}
	cur := start
	curNode := fs.L.readInode(cur)
	parent := cur

	for _, c := range comps {
		if curNode.IsSymlink() {
			resolved, resolvedNode, err := fs.resolveSymlink(curNode, parent, depth)
			if err != 0 {
				return 0, nil, err
			}
			cur, curNode = resolved, resolvedNode
		}
		if !curNode.IsDir() {
			return 0, nil, errno.ENOTDIR
		}
		childID, ok := fs.L.Lookup(curNode, c)
		if !ok {
			return 0, nil, errno.ENOENT
		}
		parent = cur
		cur = childID
		curNode = fs.L.readInode(cur)
	}

	if curNode.IsSymlink() {
		return fs.resolveSymlink(curNode, parent, depth)
	}
	return cur, curNode, 0
}

func (fs *Ext2) resolveSymlink(n *Inode, parent int, depth int) (int, *Inode, errno.Err_t) {
	target := fs.readSymlinkTarget(n)
	start := parent
	if strings.HasPrefix(target, "/") {
		start = RootInode
	}
	return fs.walkFrom(start, splitComponents(target), depth+1)
}

// Exists implements spec §4.15's exists.
func (fs *Ext2) Exists(path string) bool {
	_, _, err := fs.walk(path)
	return err == 0
}

// Metadata implements spec §4.15's metadata.
func (fs *Ext2) Metadata(path string) (Metadata, errno.Err_t) {
	id, n, err := fs.walk(path)
	if err != 0 {
		return Metadata{}, err
	}
	return Metadata{Inode: id, Mode: n.Mode, Size: n.Size, LinksCount: n.LinksCount}, 0
}

// ReadDir implements spec §4.15's read_dir.
func (fs *Ext2) ReadDir(path string) ([]DirEntry, errno.Err_t) {
	_, n, err := fs.walk(path)
	if err != 0 {
		return nil, err
	}
	if !n.IsDir() {
		return nil, errno.ENOTDIR
	}
	return fs.L.ReadDir(n), 0
}

// OpenFile implements spec §4.15's open_file: resolves path, returns
// the inode number and on-disk record for the syscall layer to build an
// Fd around.
func (fs *Ext2) OpenFile(path string) (int, *Inode, errno.Err_t) {
	return fs.walk(path)
}

// validInsert implements the "valid insert" check spec §4.15 describes
// for create_file/create_dir/link/symlink: parent must be a directory,
// the final component must not already exist, and its name must fit.
func (fs *Ext2) validInsert(path string) (parentID int, parent *Inode, name string, err errno.Err_t) {
	dir, base := splitParent(path)
	if base == "" || len(base) > 255 {
		return 0, nil, "", errno.ENAMETOOLONG
	}
	parentID, parent, err = fs.walk(dir)
	if err != 0 {
		return 0, nil, "", err
	}
	if !parent.IsDir() {
		return 0, nil, "", errno.ENOTDIR
	}
	if _, exists := fs.L.Lookup(parent, base); exists {
		return 0, nil, "", errno.EEXIST
	}
	return parentID, parent, base, 0
}

// CreateFile implements spec §4.15's create_file.
func (fs *Ext2) CreateFile(path string) errno.Err_t {
	parentID, parent, name, err := fs.validInsert(path)
	if err != 0 {
		return err
	}
	id, err := fs.L.AllocInode(false)
	if err != 0 {
		return err
	}
	n := &Inode{Mode: TypeRegular, LinksCount: 1}
	fs.L.writeInode(id, n)
	if err := fs.L.InsertEntry(parentID, parent, name, id, dirFileTypeRegular); err != 0 {
		fs.L.DeallocInode(id, false)
		return err
	}
	return 0
}

// CreateDir implements spec §4.15's create_dir: allocates a fresh block
// for the new directory, installs "." and "..", and increments the
// hard-link count of the new inode and of the parent.
func (fs *Ext2) CreateDir(path string) errno.Err_t {
	parentID, parent, name, err := fs.validInsert(path)
	if err != 0 {
		return err
	}
	id, err := fs.L.AllocInode(true)
	if err != 0 {
		return err
	}
	ids, err := fs.L.AllocData(1)
	if err != 0 {
		fs.L.DeallocInode(id, true)
		return err
	}
	n := &Inode{Mode: TypeDir, LinksCount: 2}
	n.Blocks[0] = ids[0]
	n.Size = BlockSize
	fs.L.writeInode(id, n)
	initDirBlock(fs.L.Cache, ids[0], id, parentID)

	if err := fs.L.InsertEntry(parentID, parent, name, id, dirFileTypeDir); err != 0 {
		fs.L.DeallocData(ids)
		fs.L.DeallocInode(id, true)
		return err
	}
	parent.LinksCount++ // the new ".." entry points back at parent
	fs.L.writeInode(parentID, parent)
	return 0
}

// CreateDevice installs a character-special directory entry whose inode
// carries dev (a devno.Mkdev-packed major/minor) in place of file size,
// mirroring ext2's S_IFCHR inodes where the size field holds the device
// id instead of a byte count.
func (fs *Ext2) CreateDevice(path string, dev uint64) errno.Err_t {
	parentID, parent, name, err := fs.validInsert(path)
	if err != 0 {
		return err
	}
	id, err := fs.L.AllocInode(false)
	if err != 0 {
		return err
	}
	n := &Inode{Mode: TypeCharDev, LinksCount: 1, Size: dev}
	fs.L.writeInode(id, n)
	if err := fs.L.InsertEntry(parentID, parent, name, id, dirFileTypeCharDev); err != 0 {
		fs.L.DeallocInode(id, false)
		return err
	}
	return 0
}

// DeviceID reports whether path names a character-special file and, if
// so, the device id stored in its inode. The syscall layer consults
// this before OpenHandle so device opens route to the installed Fops
// instead of ext2's own block-backed File.
func (fs *Ext2) DeviceID(path string) (dev uint64, isDev bool, err errno.Err_t) {
	_, n, werr := fs.walk(path)
	if werr != 0 {
		return 0, false, werr
	}
	if !n.IsCharDev() {
		return 0, false, 0
	}
	return n.Size, true, 0
}

// Link implements spec §4.15's link: target must be a regular file; it
// adds a directory entry without allocating an inode and increments the
// target's link count.
func (fs *Ext2) Link(target, newPath string) errno.Err_t {
	targetID, targetNode, err := fs.walk(target)
	if err != 0 {
		return err
	}
	if !targetNode.IsRegular() {
		return errno.EMLINK
	}
	parentID, parent, name, err := fs.validInsert(newPath)
	if err != 0 {
		return err
	}
	if err := fs.L.InsertEntry(parentID, parent, name, targetID, dirFileTypeRegular); err != 0 {
		return err
	}
	targetNode.LinksCount++
	fs.L.writeInode(targetID, targetNode)
	return 0
}

// Symlink implements spec §4.15's symlink: allocates a new inode of
// type SymbolicLink and writes the target in-place; targets over 60
// bytes are rejected with EINVAL, per spec §4.14.
func (fs *Ext2) Symlink(target, newPath string) errno.Err_t {
	if len(target) > maxInlineSymlink {
		return errno.EINVAL
	}
	parentID, parent, name, err := fs.validInsert(newPath)
	if err != 0 {
		return err
	}
	id, err := fs.L.AllocInode(false)
	if err != 0 {
		return err
	}
	n := &Inode{Mode: TypeSymlink, LinksCount: 1, Size: uint64(len(target))}
	copy(n.Inline[:], target)
	fs.L.writeInode(id, n)
	if err := fs.L.InsertEntry(parentID, parent, name, id, dirFileTypeSymlink); err != 0 {
		fs.L.DeallocInode(id, false)
		return err
	}
	return 0
}

// RemoveFile implements spec §4.15's remove_file: decrements the link
// count; at 0, truncates the file and deallocates the inode.
func (fs *Ext2) RemoveFile(path string) errno.Err_t {
	dir, base := splitParent(path)
	_, parent, err := fs.walk(dir)
	if err != 0 {
		return err
	}
	id, ok := fs.L.Lookup(parent, base)
	if !ok {
		return errno.ENOENT
	}
	n := fs.L.readInode(id)
	if n.IsDir() {
		return errno.EISDIR
	}
	if err := fs.L.RemoveEntry(parent, base); err != 0 {
		return err
	}
	n.LinksCount--
	if n.LinksCount == 0 {
		freed := fs.L.decreaseTo(n, 0)
		if len(freed) > 0 {
			fs.L.DeallocData(freed)
		}
		fs.L.DeallocInode(id, false)
		return 0
	}
	fs.L.writeInode(id, n)
	return 0
}

// RemoveDir implements spec §4.15's remove_dir: recursively removes
// every non-"."/".." entry first, decrements the link counts
// contributed by "."/"..", unlinks from the parent, and deallocates the
// inode.
func (fs *Ext2) RemoveDir(path string) errno.Err_t {
	dir, base := splitParent(path)
	if base == "." || base == ".." {
		return errno.EINVAL
	}
	parentID, parent, err := fs.walk(dir)
	if err != 0 {
		return err
	}
	id, ok := fs.L.Lookup(parent, base)
	if !ok {
		return errno.ENOENT
	}
	n := fs.L.readInode(id)
	if !n.IsDir() {
		return errno.ENOTDIR
	}
	for _, e := range fs.L.ReadDir(n) {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childPath := path + "/" + e.Name
		child := fs.L.readInode(int(e.Inode))
		if child.IsDir() {
			if err := fs.RemoveDir(childPath); err != 0 {
				return err
			}
		} else {
			if err := fs.RemoveFile(childPath); err != 0 {
				return err
			}
		}
	}
	if err := fs.L.RemoveEntry(parent, base); err != 0 {
		return err
	}
	parent.LinksCount-- // the removed directory's ".." no longer references parent
	fs.L.writeInode(parentID, parent)
	fs.L.DeallocData(fs.L.decreaseTo(n, 0))
	fs.L.DeallocInode(id, true)
	return 0
}

// ReadLink returns a symlink's raw target without resolving it, for the
// readlinkat syscall.
func (fs *Ext2) ReadLink(path string) (string, errno.Err_t) {
	dir, base := splitParent(path)
	_, parent, err := fs.walk(dir)
	if err != 0 {
		return "", err
	}
	id, ok := fs.L.Lookup(parent, base)
	if !ok {
		return "", errno.ENOENT
	}
	n := fs.L.readInode(id)
	if !n.IsSymlink() {
		return "", errno.EINVAL
	}
	return fs.readSymlinkTarget(n), 0
}

// StatInode implements the fd-based half of fstat: the syscall layer
// already holds an open File's inode number and has no path to re-walk.
func (fs *Ext2) StatInode(id int) (Metadata, errno.Err_t) {
	n := fs.L.readInode(id)
	return Metadata{Inode: id, Mode: n.Mode, Size: n.Size, LinksCount: n.LinksCount}, 0
}

// Flush implements spec §4.15's flush: the VFS has no dirty in-memory
// state of its own beyond the block cache, so this simply delegates.
func (fs *Ext2) Flush() {
	fs.L.Flush()
}
