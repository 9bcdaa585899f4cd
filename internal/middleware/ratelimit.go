package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// bucket is a token bucket refilled lazily on each Allow call.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

func (b *bucket) allow(capacity, refillPerSec float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastSeen).Seconds() * refillPerSec
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter keeps one bucket per client IP and evicts idle ones.
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	capacity     float64
	refillPerSec float64
}

func NewRateLimiter(capacity, refillPerSec int) *RateLimiter {
	rl := &RateLimiter{
		buckets:      make(map[string]*bucket),
		capacity:     float64(capacity),
		refillPerSec: float64(refillPerSec),
	}
	go rl.evictIdle()
	return rl
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity, lastSeen: time.Now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()
	return b.allow(rl.capacity, rl.refillPerSec)
}

func (rl *RateLimiter) evictIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			idle := b.lastSeen.Before(cutoff)
			b.mu.Unlock()
			if idle {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit creates a per-IP rate limiting middleware. Health probes are
// exempt so orchestrators never get throttled away from /health.
func RateLimit(capacity, refillPerSec int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(capacity, refillPerSec)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limiter.Allow(host) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
