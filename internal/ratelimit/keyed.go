// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Keyed struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// PerMinute builds a limiter allowing n events per minute per key. n <= 0
// disables limiting.
func PerMinute(n float64, burst int) *Keyed {
	limit := rate.Inf
	if n > 0 {
		limit = rate.Limit(n / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{limit: limit, burst: burst, now: time.Now, entries: map[string]*entry{}}
}

func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}
	now := k.now()
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	k.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Prune forgets keys idle for longer than idle and returns how many went.
func (k *Keyed) Prune(idle time.Duration) int {
	if k == nil {
		return 0
	}
	cutoff := k.now().Add(-idle)
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for key, e := range k.entries {
		if e.lastSeen.Before(cutoff) {
			delete(k.entries, key)
			n++
		}
	}
	return n
}

func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
