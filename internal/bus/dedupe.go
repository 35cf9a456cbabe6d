package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen message IDs so webhook retries and
// gateway reconnects do not start a second turn for the same message.
type DedupeCache struct {
	ttl     time.Duration
	max     int
	mu      sync.Mutex
	seen    map[string]time.Time
	nowFunc func() time.Time
}

// NewDedupeCache creates a cache holding at most max keys for ttl each.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 5000
	}
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		seen:    make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// IsDuplicate records key and reports whether it was already seen within
// the TTL. Empty keys are never duplicates.
func (c *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	now := c.nowFunc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && now.Sub(at) < c.ttl {
		return true
	}
	c.seen[key] = now
	if len(c.seen) > c.max {
		c.evict(now)
	}
	return false
}

// Len returns the number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evict drops expired keys, then the oldest ones until under max.
func (c *DedupeCache) evict(now time.Time) {
	for k, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, k)
		}
	}
	for len(c.seen) > c.max {
		var oldestKey string
		var oldest time.Time
		for k, at := range c.seen {
			if oldestKey == "" || at.Before(oldest) {
				oldestKey, oldest = k, at
			}
		}
		delete(c.seen, oldestKey)
	}
}

// DedupeKey builds the cache key for an inbound message. Messages without
// a platform message ID cannot be deduplicated.
func DedupeKey(msg InboundMessage) string {
	if msg.MessageID == "" {
		return ""
	}
	return msg.Channel + "|" + msg.AccountID + "|" + msg.ChatID + "|" + msg.MessageID
}
