package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func freshTCB() *TCB {
	return NewTCB(1, 100, 4096, 0, 0x1000, 0x7ffff000, 0x8000000000000000, 0x9000)
}

func TestNewTCBStartsReady(t *testing.T) {
	tcb := freshTCB()
	require.Equal(t, Ready, tcb.Status)
	require.Equal(t, uint64(0x1000), tcb.TrapContext().Sepc)
	require.Equal(t, uint64(0x7ffff000), tcb.TrapContext().X[2])
}

func TestSetStatusRejectsAfterDeath(t *testing.T) {
	tcb := freshTCB()
	tcb.MarkDied(7)
	err := tcb.SetStatus(Ready)
	require.EqualValues(t, 3 /* ESRCH */, int(err))
}

func TestMarkDiedIsIdempotent(t *testing.T) {
	tcb := freshTCB()
	tcb.MarkDied(1)
	require.NotPanics(t, func() { tcb.MarkDied(2) })
	require.Equal(t, 1, tcb.ExitCode)
}

func TestWaitDeadBlocksUntilMarkDied(t *testing.T) {
	tcb := freshTCB()
	done := make(chan int, 1)
	go func() { done <- tcb.WaitDead() }()
	tcb.MarkDied(42)
	require.Equal(t, 42, <-done)
}

func TestKillSetsDoomedFlagAndCode(t *testing.T) {
	tcb := freshTCB()
	tcb.Kill(9)
	require.True(t, tcb.Killed)
	require.Equal(t, 9, tcb.ExitCode)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "running", Running.String())
	require.Equal(t, "blocked", Blocked.String())
	require.Equal(t, "died", Died.String())
}
