package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetGetWithTTL(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	c.Set("a", 1, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestExpiredEntryNotReturned(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	c.Set("a", 1, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c := NewInMemoryCache[string, int](time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	require.Equal(t, 2, c.Size())

	c.Delete("a")
	require.Equal(t, 1, c.Size())

	c.Clear()
	require.Zero(t, c.Size())
}

func TestResolutionCacheRoundTrip(t *testing.T) {
	rc := NewResolutionCache()

	_, ok := rc.Get("0xcond")
	require.False(t, ok)

	rc.Set("0xcond", false)
	resolved, ok := rc.Get("0xcond")
	require.True(t, ok)
	require.False(t, resolved)

	rc.Set("0xcond", true)
	resolved, ok = rc.Get("0xcond")
	require.True(t, ok)
	require.True(t, resolved)

	rc.Delete("0xcond")
	_, ok = rc.Get("0xcond")
	require.False(t, ok)
}
