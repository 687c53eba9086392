// Package security holds request guards for the local status API.
package security

import (
	"sync"
	"time"
)

// Limiter allows at most limit hits per key within a sliding window.
// A non-positive limit disables it.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewLimiter returns a limiter of limit hits per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   map[string][]time.Time{},
	}
}

// Allow records a hit for key and reports whether it fits the window.
// Rejected hits are not recorded.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key, cutoff)
	if len(kept) >= l.limit {
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}

// RetryAfter returns how long key must wait before its next hit is allowed.
func (l *Limiter) RetryAfter(key string) time.Duration {
	if l == nil || l.limit <= 0 {
		return 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.prune(key, now.Add(-l.window))
	if len(kept) < l.limit {
		return 0
	}
	return kept[0].Add(l.window).Sub(now)
}

// prune drops hits at or before cutoff. Callers hold mu.
func (l *Limiter) prune(key string, cutoff time.Time) []time.Time {
	arr := l.hits[key]
	kept := arr[:0]
	for _, t := range arr {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = kept
	return kept
}
