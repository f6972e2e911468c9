package service

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterRegistry holds one token bucket per key.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterRegistry creates an empty registry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{limiters: make(map[string]*rate.Limiter)}
}

// GetOrCreate returns the limiter for key, creating it with the given rate
// and burst on first use.
func (r *RateLimiterRegistry) GetOrCreate(key string, limit rate.Limit, burst int) *rate.Limiter {
	r.mu.RLock()
	limiter, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(limit, burst)
	r.limiters[key] = limiter
	return limiter
}

// Delete removes the limiter for key.
func (r *RateLimiterRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.limiters, key)
}

// DeletePrefix removes every limiter whose key starts with prefix.
func (r *RateLimiterRegistry) DeletePrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k := range r.limiters {
		if strings.HasPrefix(k, prefix) {
			delete(r.limiters, k)
			n++
		}
	}
	return n
}

// Len returns the number of limiters held.
func (r *RateLimiterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
