package chain

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-host rate limiting for off-chain endpoints.
type RateLimiter struct {
	limiters   map[string]*rate.Limiter
	mu         sync.RWMutex
	rateLimit  rate.Limit
	burstLimit int
}

// NewRateLimiter creates a rate limiter with the given requests per second and burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		rateLimit:  rate.Limit(ratePerSecond),
		burstLimit: burst,
	}
}

// DefaultRateLimiter returns a limiter allowing 5 requests/second with a burst of 10.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(5, 10)
}

// Allow checks if a request to the endpoint is allowed right now.
func (r *RateLimiter) Allow(endpoint string) bool {
	return r.getLimiter(hostKey(endpoint)).Allow()
}

// Wait blocks until a request to the endpoint is allowed or the context is canceled.
// Endpoints sharing a host share a bucket.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	return r.getLimiter(hostKey(endpoint)).Wait(ctx)
}

// getLimiter returns the limiter for the given key, creating one if needed.
func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, exists = r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(r.rateLimit, r.burstLimit)
	r.limiters[key] = limiter
	return limiter
}

func hostKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
