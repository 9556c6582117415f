package irqlock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockUnlockTogglesControllerOnlyAtOuterDepth(t *testing.T) {
	defer SetIRQController(nil)
	var states []bool
	SetIRQController(func(enabled bool) { states = append(states, enabled) })

	var a, b Mutex
	a.Lock()
	b.Lock() // nested: must not re-enable between the two locks
	b.Unlock()
	a.Unlock()

	require.Equal(t, []bool{false, true}, states)
}

func TestUnlockWithoutLockPanics(t *testing.T) {
	defer SetIRQController(nil)
	var m Mutex
	require.Panics(t, func() { m.Unlock() })
}

func TestMutexExcludesConcurrentAccess(t *testing.T) {
	var m Mutex
	counter := 0
	done := make(chan struct{})
	const n = 100
	for i := 0; i < n; i++ {
		go func() {
			m.Lock()
			counter++
			m.Unlock()
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	require.Equal(t, n, counter)
}
