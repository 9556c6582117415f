package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinMax(t *testing.T) {
	require.Equal(t, 3, Min(3, 7))
	require.Equal(t, 7, Max(3, 7))
}

func TestRounddownRoundup(t *testing.T) {
	require.Equal(t, 4096, Rounddown(4100, 4096))
	require.Equal(t, 8192, Roundup(4100, 4096))
	require.Equal(t, 4096, Roundup(4096, 4096))
}

func TestReadnWritenRoundtrip(t *testing.T) {
	buf := make([]byte, 16)
	Writen(buf, 8, 0, 123456789)
	require.Equal(t, 123456789, Readn(buf, 8, 0))

	Writen(buf, 4, 8, 42)
	require.Equal(t, 42, Readn(buf, 4, 8))

	Writen(buf, 1, 12, 255)
	require.Equal(t, 255, Readn(buf, 1, 12))
}

func TestReadnPanicsOutOfBounds(t *testing.T) {
	buf := make([]byte, 4)
	require.Panics(t, func() { Readn(buf, 8, 0) })
}
