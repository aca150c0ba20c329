package engine

import (
	"sync"
	"time"
)

// Cooldown suppresses repeat firings of a rule for the same device.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(ruleID, deviceID string, now time.Time, cooldown time.Duration) bool {
	return c.AllowKey(ruleID+"|"+deviceID, now, cooldown)
}

func (c *Cooldown) AllowKey(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	if len(c.last) > 10000 {
		for k, ts := range c.last {
			if now.Sub(ts) >= cooldown {
				delete(c.last, k)
			}
		}
	}
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
