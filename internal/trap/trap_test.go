package trap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rv39kernel/internal/errno"
)

type fakeHooks struct {
	syscalled  bool
	ticked     bool
	faultVaddr uint64
	faultCause Cause
	faultErr   errno.Err_t
}

func (f *fakeHooks) Syscall(ctx *Context) { f.syscalled = true; ctx.X[10] = 42 }
func (f *fakeHooks) TimerTick()           { f.ticked = true }
func (f *fakeHooks) PageFault(vaddr uint64, cause Cause) errno.Err_t {
	f.faultVaddr, f.faultCause = vaddr, cause
	return f.faultErr
}

func TestAppInitContextSetsEntryAndStack(t *testing.T) {
	ctx := AppInitContext(0x1000, 0x7ffff000, 0x8000000000000001, 0x90000, 0xa000)
	require.EqualValues(t, 0x1000, ctx.Sepc)
	require.EqualValues(t, 0x7ffff000, ctx.X[2])
	require.EqualValues(t, 0x8000000000000001, ctx.KernelSatp)
	require.EqualValues(t, 0x90000, ctx.KernelSp)
	require.EqualValues(t, 0xa000, ctx.TrapHandler)
}

func TestDispatchUserEnvCallAdvancesSepcAndCallsSyscall(t *testing.T) {
	h := &fakeHooks{}
	ctx := &Context{Sepc: 0x2000}
	outcome := Dispatch(UserEnvCall, ctx, h)
	require.Equal(t, Continue, outcome)
	require.True(t, h.syscalled)
	require.EqualValues(t, 0x2004, ctx.Sepc)
	require.EqualValues(t, 42, ctx.X[10])
}

func TestDispatchSupervisorTimerReschedules(t *testing.T) {
	h := &fakeHooks{}
	outcome := Dispatch(SupervisorTimer, &Context{}, h)
	require.Equal(t, Reschedule, outcome)
	require.True(t, h.ticked)
}

func TestDispatchPageFaultRepairedContinues(t *testing.T) {
	h := &fakeHooks{faultErr: 0}
	ctx := &Context{Sepc: 0x4000}
	outcome := Dispatch(StorePageFault, ctx, h)
	require.Equal(t, Continue, outcome)
	require.EqualValues(t, 0x4000, h.faultVaddr)
	require.Equal(t, StorePageFault, h.faultCause)
}

func TestDispatchPageFaultUnrepairedKills(t *testing.T) {
	h := &fakeHooks{faultErr: errno.EFAULT}
	outcome := Dispatch(LoadPageFault, &Context{}, h)
	require.Equal(t, Kill, outcome)
}

func TestDispatchFaultCausesKill(t *testing.T) {
	h := &fakeHooks{}
	require.Equal(t, Kill, Dispatch(IllegalInstruction, &Context{}, h))
	require.Equal(t, Kill, Dispatch(StoreFault, &Context{}, h))
	require.Equal(t, Kill, Dispatch(LoadFault, &Context{}, h))
}

func TestDispatchFromSupervisorPanics(t *testing.T) {
	h := &fakeHooks{}
	require.Panics(t, func() { Dispatch(FromSupervisor, &Context{}, h) })
}
