package butler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calibcheck/calibcheck/pkg/types"
)

// Entry is a decoded calibration product together with the file state it was
// decoded from.
type Entry struct {
	Image    *types.Image
	ExpTime  float64
	Defects  []types.Box
	ModTime  time.Time
	LoadedAt time.Time
}

// Cache is a thread-safe store of decoded calibration products keyed by path.
// Entries older than the TTL are evicted by Evict or the Run loop.
type Cache struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewCache creates a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the entry for path.
func (c *Cache) Put(path string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.LoadedAt = c.now()
	c.data[path] = e
}

// Get returns the entry for path if it is within the TTL and was decoded
// from a file with the given modification time.
func (c *Cache) Get(path string, modTime time.Time) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[path]
	if !ok {
		return nil, false
	}
	if !e.ModTime.Equal(modTime) || !e.LoadedAt.After(c.now().Add(-c.ttl)) {
		return nil, false
	}
	return e, true
}

// Count returns the number of entries currently held, including stale ones.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Evict removes entries loaded before now minus TTL and returns how many
// were removed.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-c.ttl)
	removed := 0
	for p, e := range c.data {
		if !e.LoadedAt.After(cutoff) {
			delete(c.data, p)
			removed++
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the TTL (minimum
// one second) and blocks until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := c.Evict(now); n > 0 {
				slog.Debug("butler: evicted cached calibrations", "count", n)
			}
		}
	}
}
