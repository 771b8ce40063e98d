package client

import (
	"time"
)

// RetryConfig holds the backoff policy for transient network failures.
type RetryConfig struct {
	// MaxAttempts is the number of attempts per page, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the page retry policy: 5 attempts waiting
// 1s, 2s, 4s, 8s and 16s after each failure (31s in total).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the wait after the failed attempt with the given zero-based index.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// Total returns the cumulative wait when every attempt fails.
func (c RetryConfig) Total() time.Duration {
	var total time.Duration
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		total += c.Backoff(attempt)
	}
	return total
}
