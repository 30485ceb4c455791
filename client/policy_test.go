package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRefresh(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := 5 * time.Minute

	tests := []struct {
		name      string
		size      int
		lastFetch time.Time
		now       time.Time
		force     bool
		want      bool
	}{
		{"never fetched", 0, time.Time{}, t0, false, true},
		{"empty collection refetches", 0, t0, t0.Add(time.Second), false, true},
		{"fresh", 3, t0, t0.Add(d - time.Second), false, false},
		{"exactly stale", 3, t0, t0.Add(d), false, true},
		{"past stale", 3, t0, t0.Add(d + time.Second), false, true},
		{"force wins over fresh", 3, t0, t0.Add(time.Second), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRefresh(tt.size, tt.lastFetch, tt.now, tt.force, d))
		})
	}
}

func TestRetryBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, cfg.backoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 400*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 800*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, time.Second, cfg.backoff(4))
	assert.Equal(t, time.Second, cfg.backoff(10))
}

func TestRetryBackoffJitterStaysBounded(t *testing.T) {
	cfg := DefaultRetryConfig()
	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := cfg.backoff(attempt)
			assert.Greater(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, cfg.MaxBackoff)
		}
	}
}
