package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked conversations so a flood of
	// distinct chats cannot grow the limiter map without bound.
	maxTrackedKeys = 4096

	// limiterIdleTTL is how long an unused limiter is kept.
	limiterIdleTTL = 10 * time.Minute
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// OutboundLimiter paces sends per conversation with one token bucket per key.
// Safe for concurrent use.
type OutboundLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewOutboundLimiter allows perSecond sends per key with the given burst.
// perSecond <= 0 disables limiting.
func NewOutboundLimiter(perSecond float64, burst int) *OutboundLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &OutboundLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Wait blocks until key may send or ctx is done.
func (l *OutboundLimiter) Wait(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	return l.get(key).Wait(ctx)
}

// Allow reports whether key may send right now, consuming a token if so.
func (l *OutboundLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.get(key).Allow()
}

// Len returns the number of tracked keys.
func (l *OutboundLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *OutboundLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok {
		e.lastUsed = now
		return e.lim
	}

	// Prune idle entries when approaching the cap
	if len(l.entries) >= maxTrackedKeys {
		for k, e := range l.entries {
			if now.Sub(e.lastUsed) >= limiterIdleTTL {
				delete(l.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(l.entries) >= maxTrackedKeys {
			for k := range l.entries {
				delete(l.entries, k)
				break
			}
		}
	}

	e := &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst), lastUsed: now}
	l.entries[key] = e
	return e.lim
}
