package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestEndpointCache_LookupHonoursTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewEndpointCache(DefaultEndpointTTL, WithClock(clock.Now))

	_, ok := c.Lookup("generate")
	assert.False(t, ok)

	c.Store("generate", "https://fake/v2/video/generate")
	entry, ok := c.Lookup("generate")
	require.True(t, ok)
	assert.Equal(t, "https://fake/v2/video/generate", entry.URL)
	assert.Equal(t, clock.Now(), entry.ResolvedAt)

	clock.Advance(DefaultEndpointTTL - time.Second)
	_, ok = c.Lookup("generate")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Lookup("generate")
	assert.False(t, ok, "an entry exactly TTL old is treated as absent")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Expired)
	assert.Equal(t, int64(1), stats.Stores)
	assert.Equal(t, 0, stats.Size)
}

func TestEndpointCache_StoreReplacesWholeEntry(t *testing.T) {
	clock := newFakeClock()
	c := NewEndpointCache(time.Minute, WithClock(clock.Now))

	c.Store("status", "https://fake/v1/video/status")
	clock.Advance(30 * time.Second)
	c.Store("status", "https://fake/v2/video/status")

	entry, ok := c.Lookup("status")
	require.True(t, ok)
	assert.Equal(t, "https://fake/v2/video/status", entry.URL)
	assert.Equal(t, clock.Now(), entry.ResolvedAt)
}

func TestEndpointCache_StoreIfAbsent(t *testing.T) {
	clock := newFakeClock()
	c := NewEndpointCache(time.Minute, WithClock(clock.Now))

	assert.True(t, c.StoreIfAbsent("status", "https://fake/veo/status"))
	assert.False(t, c.StoreIfAbsent("status", "https://fake/video/status"))

	entry, _ := c.Lookup("status")
	assert.Equal(t, "https://fake/veo/status", entry.URL)

	clock.Advance(time.Minute)
	assert.True(t, c.StoreIfAbsent("status", "https://fake/video/status"))
}

func TestEndpointCache_Disabled(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		c := NewEndpointCache(ttl)
		assert.False(t, c.Enabled())
		c.Store("generate", "https://fake/x")
		_, ok := c.Lookup("generate")
		assert.False(t, ok)
		assert.Empty(t, c.Snapshot())
	}

	var nilCache *EndpointCache
	_, ok := nilCache.Lookup("generate")
	assert.False(t, ok)
	nilCache.Store("generate", "https://fake/x")
	nilCache.Invalidate("generate")
	assert.Nil(t, nilCache.Snapshot())
}

func TestEndpointCache_InvalidateAndSnapshot(t *testing.T) {
	clock := newFakeClock()
	c := NewEndpointCache(time.Minute, WithClock(clock.Now))
	c.Store("status", "https://fake/status")
	c.Store("generate", "https://fake/generate")
	clock.Advance(90 * time.Second)
	c.Store("validate-session", "https://fake/auth/session")

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "generate", snap[0].Operation)
	assert.Equal(t, int64(90), snap[0].AgeSeconds)
	assert.True(t, snap[0].Expired)
	assert.Equal(t, "validate-session", snap[2].Operation)
	assert.False(t, snap[2].Expired)

	c.Invalidate("status")
	assert.Len(t, c.Snapshot(), 2)

	c.Clear()
	assert.Empty(t, c.Snapshot())
}

func TestEndpointCache_ConcurrentLastWriteWins(t *testing.T) {
	c := NewEndpointCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Store("generate", fmt.Sprintf("https://fake/%d", i))
			c.Lookup("generate")
		}(i)
	}
	wg.Wait()

	entry, ok := c.Lookup("generate")
	require.True(t, ok)
	assert.Contains(t, entry.URL, "https://fake/")
}
