package relay

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit events in any trailing window. Admitted
// timestamps live in a fixed ring, so once it is full the oldest entry alone
// decides whether the next event fits.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration

	ring   []time.Time
	oldest int
	n      int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{limit: limit, window: window, ring: make([]time.Time, limit)}
}

// Allow reports whether an event at now fits and records it if so. An event
// exactly one window old no longer counts.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < r.limit {
		r.ring[(r.oldest+r.n)%r.limit] = now
		r.n++
		return true
	}
	if now.Sub(r.ring[r.oldest]) < r.window {
		return false
	}
	r.ring[r.oldest] = now
	r.oldest = (r.oldest + 1) % r.limit
	return true
}
