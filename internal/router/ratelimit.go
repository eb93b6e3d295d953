package router

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned by Search when the per-minute quota is
// exhausted. Callers map it to HTTP 429.
var ErrRateLimited = errors.New("search rate limit exceeded")

// rateLimiter admits at most limit requests per sliding window. Only
// admitted requests count against the quota, so a rejected burst does not
// extend its own penalty.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration

	// now is overridable so window expiry is testable.
	now func() time.Time

	admitted []time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		limit:  requestsPerMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit <= 0 {
		return true
	}

	cutoff := r.now().Add(-r.window)
	kept := r.admitted[:0]
	for _, ts := range r.admitted {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.admitted = kept

	if len(r.admitted) >= r.limit {
		return false
	}
	r.admitted = append(r.admitted, r.now())
	return true
}
