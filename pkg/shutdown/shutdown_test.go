package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShutdownRunsAllCallbacks(t *testing.T) {
	m := NewManager()

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		m.OnShutdown(func(ctx context.Context) { ran.Add(1) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)
	require.Equal(t, int32(3), ran.Load())
}

func TestShutdownReturnsOnTimeout(t *testing.T) {
	m := NewManager()

	block := make(chan struct{})
	defer close(block)
	m.OnShutdown(func(ctx context.Context) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	m.Shutdown(ctx)
	require.Less(t, time.Since(start), time.Second)
}

func TestShutdownWithoutCallbacks(t *testing.T) {
	m := NewManager()
	m.OnShutdown(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NotPanics(t, func() { m.Shutdown(ctx) })
}
