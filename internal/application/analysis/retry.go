package analysis

import (
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy bounds provider attempts: exponential backoff with jitter,
// capped per delay. Only transient failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

func NewRetryPolicy(maxAttempts int, base, max time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	// Dedicated source to avoid contention on the global rand lock
	src := rand.NewSource(time.Now().UnixNano())
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		rand:        rand.New(src),
	}
}

// Delay returns the backoff before the given attempt (1-based; attempt 1 has
// no delay). The exponential step is spread with up to 50% jitter.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay << uint(attempt-2)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	p.mu.Lock()
	jitter := time.Duration(p.rand.Int63n(int64(d)/2 + 1))
	p.mu.Unlock()
	return d/2 + jitter
}
