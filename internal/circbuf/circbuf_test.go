package circbuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyBufferStartsEmptyNotFull(t *testing.T) {
	cb := New(4)
	require.True(t, cb.Empty())
	require.False(t, cb.Full())
	require.Equal(t, 0, cb.Used())
	require.Equal(t, 4, cb.Left())
}

func TestCopyinCopyoutRoundtrip(t *testing.T) {
	cb := New(8)
	n, err := cb.Copyin([]byte("hello"))
	require.Zero(t, int(err))
	require.Equal(t, 5, n)
	require.Equal(t, 5, cb.Used())
	require.Equal(t, 3, cb.Left())

	out := make([]byte, 5)
	n, err = cb.Copyout(out)
	require.Zero(t, int(err))
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))
	require.True(t, cb.Empty())
}

func TestCopyinTruncatesWhenBufferFills(t *testing.T) {
	cb := New(4)
	n, err := cb.Copyin([]byte("abcdef"))
	require.Zero(t, int(err))
	require.Equal(t, 4, n)
	require.True(t, cb.Full())

	out := make([]byte, 4)
	n, _ = cb.Copyout(out)
	require.Equal(t, 4, n)
	require.Equal(t, "abcd", string(out))
}

func TestCopyoutTruncatesWhenBufferHasLess(t *testing.T) {
	cb := New(8)
	cb.Copyin([]byte("ab"))
	out := make([]byte, 5)
	n, err := cb.Copyout(out)
	require.Zero(t, int(err))
	require.Equal(t, 2, n)
	require.Equal(t, "ab", string(out[:n]))
}

func TestWrapAroundAfterPartialDrain(t *testing.T) {
	cb := New(4)
	cb.Copyin([]byte("ab"))
	out := make([]byte, 1)
	cb.Copyout(out) // drains "a", tail advances past the physical start

	n, err := cb.Copyin([]byte("cde"))
	require.Zero(t, int(err))
	require.Equal(t, 3, n) // "b" still buffered, 3 bytes of room left
	require.True(t, cb.Full())

	drained := make([]byte, 4)
	n, _ = cb.Copyout(drained)
	require.Equal(t, 4, n)
	require.Equal(t, "bcde", string(drained))
}
