package decode

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"MotoMind-Vision/internal/vin"
)

// DefaultCacheSize bounds the in-memory cache of a single decoder.
const DefaultCacheSize = 1024

// Cache stores decoded vehicles keyed by normalized VIN.
type Cache interface {
	Get(ctx context.Context, key string) (vin.DecodedVehicleInfo, bool)
	Set(ctx context.Context, key string, info vin.DecodedVehicleInfo, ttl time.Duration)
}

// Entry is a cached decode with its absolute expiry.
type Entry struct {
	Info      vin.DecodedVehicleInfo `json:"info"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats are cache hit and miss counters.
type Stats struct {
	Hits   int64
	Misses int64
	Items  int
}

// MemoryCache is a size-bounded LRU with per-entry TTL. Expired entries are
// evicted lazily on lookup.
type MemoryCache struct {
	entries *lru.Cache[string, Entry]
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewMemoryCache creates a cache holding at most size entries.
func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	if now != nil {
		c.now = now
	}
	return c
}

// Get returns a live entry.
func (c *MemoryCache) Get(_ context.Context, key string) (vin.DecodedVehicleInfo, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses.Add(1)
		return vin.DecodedVehicleInfo{}, false
	}
	if entry.Expired(c.now()) {
		c.entries.Remove(key)
		c.misses.Add(1)
		return vin.DecodedVehicleInfo{}, false
	}
	c.hits.Add(1)
	return entry.Info, true
}

// Set stores info for ttl.
func (c *MemoryCache) Set(_ context.Context, key string, info vin.DecodedVehicleInfo, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.entries.Add(key, Entry{Info: info, ExpiresAt: c.now().Add(ttl)})
}

// Purge drops every entry.
func (c *MemoryCache) Purge() {
	c.entries.Purge()
}

// Stats returns counters since construction.
func (c *MemoryCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Items: c.entries.Len()}
}

// LayeredCache reads through a fast local cache backed by a shared one.
// Hits in the shared layer are promoted locally for their remaining lifetime.
type LayeredCache struct {
	Local  *MemoryCache
	Shared *RedisCache
}

// Get implements Cache.
func (l LayeredCache) Get(ctx context.Context, key string) (vin.DecodedVehicleInfo, bool) {
	if l.Local != nil {
		if info, ok := l.Local.Get(ctx, key); ok {
			return info, true
		}
	}
	if l.Shared == nil {
		return vin.DecodedVehicleInfo{}, false
	}
	entry, ok := l.Shared.entry(ctx, key)
	if !ok {
		return vin.DecodedVehicleInfo{}, false
	}
	if l.Local != nil {
		if remaining := entry.ExpiresAt.Sub(l.Local.now()); remaining > 0 {
			l.Local.Set(ctx, key, entry.Info, remaining)
		}
	}
	return entry.Info, true
}

// Set implements Cache.
func (l LayeredCache) Set(ctx context.Context, key string, info vin.DecodedVehicleInfo, ttl time.Duration) {
	if l.Local != nil {
		l.Local.Set(ctx, key, info, ttl)
	}
	if l.Shared != nil {
		l.Shared.Set(ctx, key, info, ttl)
	}
}
