package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// MemoryCache is an in-process [Store]. Expired entries are dropped lazily on
// Get and in bulk by [MemoryCache.Sweep].
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ Store = (*MemoryCache)(nil)

// MemoryOption configures a [MemoryCache].
type MemoryOption func(*MemoryCache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get implements [Store].
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	me, ok := c.entries[fingerprint]
	if !ok {
		return Entry{}, false, nil
	}
	if !c.now().Before(me.expires) {
		delete(c.entries, fingerprint)
		return Entry{}, false, nil
	}
	return me.entry, true, nil
}

// Put implements [Store]. A non-positive ttl stores nothing.
func (c *MemoryCache) Put(_ context.Context, fingerprint string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = memoryEntry{entry: e, expires: c.now().Add(ttl)}
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, me := range c.entries {
		if !now.Before(me.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *MemoryCache) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}
