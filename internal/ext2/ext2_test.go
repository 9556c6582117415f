package ext2

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rv39kernel/internal/blockdev"
)

func freshFS(t *testing.T, nsectors int) *Ext2 {
	t.Helper()
	dev := blockdev.NewRam(nsectors)
	l, err := Format(dev)
	require.Zero(t, int(err))
	return NewExt2(l)
}

func TestFormatProducesMountableRoot(t *testing.T) {
	dev := blockdev.NewRam(4096)
	l, err := Format(dev)
	require.Zero(t, int(err))

	mounted, err := Mount(dev)
	require.Zero(t, int(err))
	require.Equal(t, l.SB.GroupsCount, mounted.SB.GroupsCount)

	fs := NewExt2(mounted)
	entries, err := fs.ReadDir("/")
	require.Zero(t, int(err))
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
}

func TestCreateFileAndLookup(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/hello.txt")))
	require.True(t, fs.Exists("/hello.txt"))

	meta, err := fs.Metadata("/hello.txt")
	require.Zero(t, int(err))
	require.True(t, meta.Mode&typeMask == TypeRegular)
	require.EqualValues(t, 1, meta.LinksCount)
}

func TestCreateFileRejectsDuplicate(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/a")))
	require.EqualValues(t, 17 /* EEXIST */, int(fs.CreateFile("/a")))
}

func TestCreateDirNestedAndReadDir(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateDir("/sub")))
	require.Zero(t, int(fs.CreateFile("/sub/file")))

	entries, err := fs.ReadDir("/sub")
	require.Zero(t, int(err))
	found := false
	for _, e := range entries {
		if e.Name == "file" {
			found = true
		}
	}
	require.True(t, found)

	rootMeta, err := fs.Metadata("/")
	require.Zero(t, int(err))
	require.EqualValues(t, 3, rootMeta.LinksCount) // ".", "..", and sub's ".."
}

func TestReadWriteRoundtrip(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/data")))
	id, n, err := fs.OpenFile("/data")
	require.Zero(t, int(err))

	payload := []byte(strings.Repeat("ext2", 2048)) // spans two direct blocks
	ids, aerr := fs.L.AllocData(totalBlocks(uint64(len(payload))))
	require.Zero(t, int(aerr))
	require.Zero(t, int(fs.L.increaseTo(n, uint64(len(payload)), ids)))
	fs.L.writeAt(n, 0, payload)
	fs.L.writeInode(id, n)

	reread, _, err := fs.OpenFile("/data")
	require.Zero(t, int(err))
	readBack := make([]byte, len(payload))
	got := fs.L.readAt(fs.L.readInode(reread), 0, readBack)
	require.Equal(t, len(payload), got)
	require.Equal(t, payload, readBack)
}

func TestHardLinkSharesInode(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/orig")))
	require.Zero(t, int(fs.Link("/orig", "/alias")))

	origID, _, _ := fs.OpenFile("/orig")
	aliasID, aliasNode, _ := fs.OpenFile("/alias")
	require.Equal(t, origID, aliasID)
	require.EqualValues(t, 2, aliasNode.LinksCount)
}

func TestLinkRejectsDirectoryWithEMLINK(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateDir("/d")))
	err := fs.Link("/d", "/alias")
	require.EqualValues(t, 31 /* EMLINK */, int(err))
}

func TestSymlinkResolvesToTarget(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/real")))
	require.Zero(t, int(fs.Symlink("/real", "/link")))

	realID, _, _ := fs.OpenFile("/real")
	linkID, linkNode, err := fs.walk("/link")
	require.Zero(t, int(err))
	require.Equal(t, realID, linkID)
	require.True(t, linkNode.IsRegular())
}

func TestReadLinkReturnsRawTarget(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/real")))
	require.Zero(t, int(fs.Symlink("/real", "/link")))
	target, err := fs.ReadLink("/link")
	require.Zero(t, int(err))
	require.Equal(t, "/real", target)
}

func TestSymlinkTooLongIsRejected(t *testing.T) {
	fs := freshFS(t, 4096)
	require.EqualValues(t, 22 /* EINVAL */, int(fs.Symlink(strings.Repeat("x", 61), "/bad")))
}

func TestRemoveFileFreesInode(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/gone")))
	require.Zero(t, int(fs.RemoveFile("/gone")))
	require.False(t, fs.Exists("/gone"))
}

func TestRemoveDirRecursive(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateDir("/d")))
	require.Zero(t, int(fs.CreateFile("/d/f1")))
	require.Zero(t, int(fs.CreateDir("/d/sub")))
	require.Zero(t, int(fs.RemoveDir("/d")))
	require.False(t, fs.Exists("/d"))
}

func TestRemoveDirRejectsDotAndDotDot(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateDir("/d")))
	require.NotZero(t, int(fs.RemoveDir("/d/.")))
}

func TestWalkReportsNotADirectoryThroughAFile(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/f")))
	_, _, err := fs.walk("/f/nested")
	require.EqualValues(t, 20 /* ENOTDIR */, int(err))
}

func TestBitmapAllocDeallocRoundtrip(t *testing.T) {
	fs := freshFS(t, 4096)
	freeBefore := fs.L.SB.FreeBlocks
	ids, err := fs.L.AllocData(4)
	require.Zero(t, int(err))
	require.Len(t, ids, 4)
	fs.L.DeallocData(ids)
	require.Equal(t, freeBefore, fs.L.SB.FreeBlocks)
}

func TestCreateDeviceRoundTripsID(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateDevice("/console", 0x0100000000)))

	dev, isDev, err := fs.DeviceID("/console")
	require.Zero(t, int(err))
	require.True(t, isDev)
	require.EqualValues(t, 0x0100000000, dev)

	meta, err := fs.Metadata("/console")
	require.Zero(t, int(err))
	require.True(t, meta.Mode&typeMask == TypeCharDev)
}

func TestDeviceIDFalseForRegularFile(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/f")))
	_, isDev, err := fs.DeviceID("/f")
	require.Zero(t, int(err))
	require.False(t, isDev)
}
