package sigchan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitCoalesces(t *testing.T) {
	c := New(1)
	c.Emit()
	c.Emit()
	c.Emit()

	select {
	case <-c.C():
	default:
		t.Fatal("expected one pending signal")
	}

	select {
	case <-c.C():
		t.Fatal("repeated emits should collapse into one signal")
	default:
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	c := New(0)
	done := make(chan struct{})
	go func() {
		c.Emit()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on full channel")
	}
	require.Empty(t, c.C())
}
