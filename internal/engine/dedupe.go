package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers event ids for a window so redelivered events are
// evaluated once.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	max   int
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time), max: 10000}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.max {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func (d *DedupeCache) Reset() {
	d.mu.Lock()
	d.items = make(map[string]time.Time)
	d.mu.Unlock()
}
