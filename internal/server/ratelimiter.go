package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per key. Buckets idle for longer
// than expiresIn are dropped on the next sweep.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	expiresIn time.Duration
	lastSweep time.Time
	clock     clockwork.Clock
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int, expiresIn time.Duration, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(perSecond),
		burst:     burst,
		expiresIn: expiresIn,
		lastSweep: clock.Now(),
		clock:     clock,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep(now)
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (r *RateLimiter) sweep(now time.Time) {
	if r.expiresIn <= 0 || now.Sub(r.lastSweep) < r.expiresIn {
		return
	}
	for key, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.expiresIn {
			delete(r.buckets, key)
		}
	}
	r.lastSweep = now
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
