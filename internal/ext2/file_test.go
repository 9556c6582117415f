package ext2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileWriteReadSeekRoundtrip(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/f")))
	h, err := fs.OpenHandle("/f")
	require.Zero(t, int(err))

	n, werr := h.Write([]byte("hello world"))
	require.Zero(t, int(werr))
	require.Equal(t, 11, n)

	pos, serr := h.Seek(0, 0)
	require.Zero(t, int(serr))
	require.EqualValues(t, 0, pos)

	buf := make([]byte, 11)
	got, rerr := h.Read(buf)
	require.Zero(t, int(rerr))
	require.Equal(t, 11, got)
	require.Equal(t, "hello world", string(buf))
}

func TestFileSeekEndThenAppend(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/f")))
	h, _ := fs.OpenHandle("/f")
	h.Write([]byte("abc"))
	pos, err := h.Seek(0, 2)
	require.Zero(t, int(err))
	require.EqualValues(t, 3, pos)
	h.Write([]byte("def"))

	h2, _ := fs.OpenHandle("/f")
	buf := make([]byte, 6)
	got, rerr := h2.Read(buf)
	require.Zero(t, int(rerr))
	require.Equal(t, 6, got)
	require.Equal(t, "abcdef", string(buf))
}

func TestFileDirentDrain(t *testing.T) {
	fs := freshFS(t, 4096)
	require.Zero(t, int(fs.CreateFile("/a")))
	require.Zero(t, int(fs.CreateFile("/b")))
	h, err := fs.OpenHandle("/")
	require.Zero(t, int(err))

	names := map[string]bool{}
	for {
		e, ok := h.NextDirent()
		if !ok {
			break
		}
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
	require.True(t, names["a"])
	require.True(t, names["b"])
}

func TestFileReadOnDirectoryIsEISDIR(t *testing.T) {
	fs := freshFS(t, 4096)
	h, err := fs.OpenHandle("/")
	require.Zero(t, int(err))
	_, rerr := h.Read(make([]byte, 4))
	require.EqualValues(t, 21 /* EISDIR */, int(rerr))
}
