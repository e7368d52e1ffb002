package syncgroup

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunExecutesBatch(t *testing.T) {
	g := NewSyncGroup()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		g.Add(func() { ran.Add(1) })
	}
	g.Run()
	g.Wait()
	require.Equal(t, int32(5), ran.Load())
}

func TestAddNilIgnored(t *testing.T) {
	g := NewSyncGroup()
	g.Add(nil)
	g.Run()
	g.Wait()
}

func TestWaitAndClearAllowsReuse(t *testing.T) {
	g := NewSyncGroup()

	var first, second atomic.Int32
	g.Add(func() { first.Add(1) })
	g.Run()
	g.WaitAndClear()

	g.Add(func() { second.Add(1) })
	g.Run()
	g.WaitAndClear()

	require.Equal(t, int32(1), first.Load())
	require.Equal(t, int32(1), second.Load())
}

func TestAddRejectedWhileRunning(t *testing.T) {
	g := NewSyncGroup()

	release := make(chan struct{})
	g.Add(func() { <-release })
	g.Run()

	var late atomic.Int32
	g.Add(func() { late.Add(1) })

	close(release)
	g.WaitAndClear()

	g.Run()
	g.Wait()
	require.Zero(t, late.Load())
}
