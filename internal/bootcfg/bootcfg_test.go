package bootcfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultHasUsablePhysicalRange(t *testing.T) {
	cfg := Default()
	require.Less(t, cfg.PhysStart, cfg.PhysEnd)
	require.Positive(t, cfg.HeapSize)
	require.Equal(t, "fifo", cfg.SchedPolicy)
	require.Equal(t, 512, cfg.SectorSize)
}
