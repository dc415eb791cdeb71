package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps an ordered slice of admission timestamps per key.
// Each key has its own mutex; unrelated keys never contend.
type MemoryLimiter struct {
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets sync.Map // key -> *bucket
}

type bucket struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool
}

// NewMemoryLimiter creates an in-process limiter admitting limit events per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, window: window, now: time.Now}
}

// Allow records an admission for key if the window has room.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	for {
		v, _ := l.buckets.LoadOrStore(key, &bucket{})
		b := v.(*bucket)

		b.mu.Lock()
		if b.dead {
			// swept between load and lock, pick up the replacement
			b.mu.Unlock()
			continue
		}
		now := l.now()
		b.prune(now.Add(-l.window))
		if len(b.stamps) >= l.limit {
			d := Decision{Allowed: false, RetryAfter: retryAfter(b.stamps[0], now, l.window)}
			b.mu.Unlock()
			return d, nil
		}
		b.stamps = append(b.stamps, now)
		d := Decision{Allowed: true, Remaining: l.limit - len(b.stamps)}
		b.mu.Unlock()
		return d, nil
	}
}

// prune drops timestamps at or before cutoff.
func (b *bucket) prune(cutoff time.Time) {
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// Sweep removes keys whose windows are empty.
func (l *MemoryLimiter) Sweep() int {
	cutoff := l.now().Add(-l.window)
	removed := 0
	l.buckets.Range(func(k, v interface{}) bool {
		b := v.(*bucket)
		b.mu.Lock()
		b.prune(cutoff)
		if len(b.stamps) == 0 {
			b.dead = true
			l.buckets.Delete(k)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

// StartJanitor sweeps idle keys every interval until ctx is done.
func (l *MemoryLimiter) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}
