package client

import (
	"math/rand"
	"time"
)

// RetryConfig controls optional command retry. Only INTERNAL failures are
// retried: validation and authorization errors cannot succeed on a second
// attempt, and unknown-outcome transport failures must not be replayed
// blindly.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig returns a conservative exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// backoff returns the delay before the given retry attempt (0-based).
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d >= c.MaxBackoff {
			d = c.MaxBackoff
			break
		}
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	if c.Jitter && d > 0 {
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	}
	return d
}
