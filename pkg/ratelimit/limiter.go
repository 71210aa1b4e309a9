// Package ratelimit throttles abusive callers. The login endpoints hand out
// and check confirmation codes, so they get much tighter buckets than the
// rest of the API.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is a token bucket refilled continuously at refillRate tokens/second
type bucket struct {
	capacity   int
	tokens     float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newBucket(capacity int, refillRate float64) *bucket {
	return &bucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Limiter keeps one token bucket per key (an IP, a user ID, or a composite)
type Limiter struct {
	buckets    map[string]*bucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
}

// NewLimiter creates a keyed limiter allowing a burst of capacity requests,
// refilled at refillRate per second. Buckets idle longer than ttl are
// dropped; ttl 0 keeps them forever. Call Close to stop the sweeper.
func NewLimiter(capacity int, refillRate float64, ttl time.Duration) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
		done:       make(chan struct{}),
	}
	if ttl > 0 {
		go l.sweep()
	}
	return l
}

// Close stops the background sweeper. Safe to call more than once; the
// limiter itself keeps working.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Allow reports whether a request for the given key fits in its bucket
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = newBucket(l.capacity, l.refillRate)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.allow()
}

// ActiveBuckets returns how many keys currently hold a bucket
func (l *Limiter) ActiveBuckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := time.Now()
			l.mu.Lock()
			for key, b := range l.buckets {
				b.mu.Lock()
				idle := now.Sub(b.lastRefill) > l.ttl
				b.mu.Unlock()
				if idle {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
