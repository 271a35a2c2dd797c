// Package cache remembers which upstream candidate last worked for each logical operation.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/victorsharp-labs/flow-proxy/internal/metrics"
)

// DefaultEndpointTTL is how long a resolved endpoint stays trusted.
const DefaultEndpointTTL = 10 * time.Minute

// EndpointEntry is the last URL that answered 2xx for an operation.
type EndpointEntry struct {
	URL        string    `json:"url"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// EndpointSnapshot is an entry as reported by diagnostics.
type EndpointSnapshot struct {
	Operation  string    `json:"operation"`
	URL        string    `json:"url"`
	ResolvedAt time.Time `json:"resolvedAt"`
	AgeSeconds int64     `json:"ageSeconds"`
	Expired    bool      `json:"expired"`
}

// EndpointCacheStats tracks cache effectiveness.
type EndpointCacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Expired int64 `json:"expired"`
	Stores  int64 `json:"stores"`
	Size    int   `json:"size"`
}

// EndpointCache is a best-effort memo of the working URL per operation. Entries are
// hints: callers must fall back to full resolution when a cached URL fails.
// Concurrent stores are last-write-wins.
type EndpointCache struct {
	mu      sync.Mutex
	entries map[string]EndpointEntry
	ttl     time.Duration
	now     func() time.Time
	stats   EndpointCacheStats
}

// EndpointCacheOption configures an EndpointCache.
type EndpointCacheOption func(*EndpointCache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) EndpointCacheOption {
	return func(c *EndpointCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewEndpointCache creates a cache. A ttl <= 0 disables it: lookups miss and stores are dropped.
func NewEndpointCache(ttl time.Duration, opts ...EndpointCacheOption) *EndpointCache {
	c := &EndpointCache{
		entries: make(map[string]EndpointEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *EndpointCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Enabled reports whether the cache stores anything.
func (c *EndpointCache) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Lookup returns the fresh entry for operation. Expired entries are removed and reported absent.
func (c *EndpointCache) Lookup(operation string) (EndpointEntry, bool) {
	if !c.Enabled() {
		return EndpointEntry{}, false
	}

	c.mu.Lock()
	entry, ok := c.entries[operation]
	result := "hit"
	switch {
	case !ok:
		result = "miss"
		c.stats.Misses++
	case c.now().Sub(entry.ResolvedAt) >= c.ttl:
		result = "expired"
		delete(c.entries, operation)
		c.stats.Expired++
		ok = false
	default:
		c.stats.Hits++
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.RecordEndpointCacheLookup(operation, result)
	if result == "expired" {
		metrics.SetEndpointCacheSize(size)
	}
	if !ok {
		return EndpointEntry{}, false
	}
	return entry, true
}

// Store replaces the whole entry for operation with url resolved now.
func (c *EndpointCache) Store(operation, url string) {
	if !c.Enabled() || operation == "" || url == "" {
		return
	}
	c.mu.Lock()
	c.entries[operation] = EndpointEntry{URL: url, ResolvedAt: c.now()}
	c.stats.Stores++
	size := len(c.entries)
	c.mu.Unlock()
	metrics.SetEndpointCacheSize(size)
}

// StoreIfAbsent stores url only when operation has no fresh entry. It reports whether it stored.
func (c *EndpointCache) StoreIfAbsent(operation, url string) bool {
	if !c.Enabled() || operation == "" || url == "" {
		return false
	}
	c.mu.Lock()
	now := c.now()
	if existing, ok := c.entries[operation]; ok && now.Sub(existing.ResolvedAt) < c.ttl {
		c.mu.Unlock()
		return false
	}
	c.entries[operation] = EndpointEntry{URL: url, ResolvedAt: now}
	c.stats.Stores++
	size := len(c.entries)
	c.mu.Unlock()
	metrics.SetEndpointCacheSize(size)
	return true
}

// Invalidate drops the entry for operation.
func (c *EndpointCache) Invalidate(operation string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, operation)
	size := len(c.entries)
	c.mu.Unlock()
	metrics.SetEndpointCacheSize(size)
}

// Clear drops every entry.
func (c *EndpointCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]EndpointEntry)
	c.mu.Unlock()
	metrics.SetEndpointCacheSize(0)
}

// Snapshot lists all entries with their age, sorted by operation.
func (c *EndpointCache) Snapshot() []EndpointSnapshot {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	now := c.now()
	out := make([]EndpointSnapshot, 0, len(c.entries))
	for op, entry := range c.entries {
		age := now.Sub(entry.ResolvedAt)
		out = append(out, EndpointSnapshot{
			Operation:  op,
			URL:        entry.URL,
			ResolvedAt: entry.ResolvedAt,
			AgeSeconds: int64(age / time.Second),
			Expired:    c.ttl <= 0 || age >= c.ttl,
		})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Stats returns a copy of the counters.
func (c *EndpointCache) Stats() EndpointCacheStats {
	if c == nil {
		return EndpointCacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}
