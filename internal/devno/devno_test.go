package devno

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMkdevUnmkdevRoundtrip(t *testing.T) {
	d := Mkdev(Console, 0)
	major, minor := Unmkdev(d)
	require.Equal(t, Console, major)
	require.Equal(t, 0, minor)

	d = Mkdev(Stat, 3)
	major, minor = Unmkdev(d)
	require.Equal(t, Stat, major)
	require.Equal(t, 3, minor)
}

func TestMkdevPanicsOnOutOfRangeMinor(t *testing.T) {
	require.Panics(t, func() { Mkdev(Console, -1) })
	require.Panics(t, func() { Mkdev(Console, 0x100) })
}

func TestDeviceRangeCoversDeclaredDevices(t *testing.T) {
	require.Equal(t, Console, First)
	require.Equal(t, Stat, Last)
}
