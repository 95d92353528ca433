// Package ratelimit implements per-principal token buckets refilled at a
// requests-per-minute rate.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type Limiter struct {
	RPM int
	Now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func New(rpm int) *Limiter {
	return &Limiter{
		RPM:     rpm,
		Now:     func() time.Time { return time.Now().UTC() },
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from key's bucket. When the bucket is empty it
// returns false and the whole seconds until a token is available.
// A non-positive RPM disables limiting.
func (l *Limiter) Allow(key string) (bool, int) {
	if l.RPM <= 0 {
		return true, 0
	}
	capacity := float64(l.RPM)
	refillPerSec := capacity / 60.0
	now := l.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: capacity - 1, lastSeen: now}
		return true, 0
	}

	if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*refillPerSec)
		b.lastSeen = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	retry := int(math.Ceil((1 - b.tokens) / refillPerSec))
	if retry < 1 {
		retry = 1
	}
	return false, retry
}

// Prune drops buckets idle for longer than idle. Returns the number removed.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
