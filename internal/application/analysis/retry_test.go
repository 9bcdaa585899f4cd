package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyFirstAttemptHasNoDelay(t *testing.T) {
	p := NewRetryPolicy(3, 100*time.Millisecond, time.Second)
	assert.Zero(t, p.Delay(1))
}

func TestRetryPolicyBackoffGrowsWithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	p := NewRetryPolicy(5, base, 10*time.Second)

	for attempt := 2; attempt <= 5; attempt++ {
		exp := base << uint(attempt-2)
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, exp/2, "attempt %d", attempt)
			assert.LessOrEqual(t, d, exp, "attempt %d", attempt)
		}
	}
}

func TestRetryPolicyDelayIsCapped(t *testing.T) {
	maxDelay := 200 * time.Millisecond
	p := NewRetryPolicy(10, 100*time.Millisecond, maxDelay)

	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, p.Delay(10), maxDelay)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(0, 0, 0)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Positive(t, p.BaseDelay)
	assert.Positive(t, p.MaxDelay)
}
