// Package ratelimit implements request admission control for the activity API.
// It enforces a fixed request budget per period (5000 requests per hour by default)
// so a run never exceeds the budget shared by every caller of the same credentials.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage. The namespace is appended so that
// unrelated budgets (e.g. separate API organizations) never share a counter.
const (
	RedisKeyWindowStart = "activity:rate_limit:%s:window_start"
	RedisKeyCount       = "activity:rate_limit:%s:count"
)

// Default budget of the reporting API.
const (
	DefaultMaxRequests = 5000
	DefaultPeriod      = time.Hour
)

// State is the fixed-window counter shared by every fetch in a run.
type State struct {
	// WindowStart is when the current budget window began.
	WindowStart time.Time `json:"window_start"`

	// Count is the number of requests admitted since WindowStart.
	Count int `json:"count"`
}

// Elapsed returns the time since the window started.
func (s State) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.WindowStart)
}

// Expired returns true once a full period has passed since WindowStart.
func (s State) Expired(now time.Time, period time.Duration) bool {
	return s.Elapsed(now) >= period
}

// Exhausted returns true when no more requests fit in the current window.
func (s State) Exhausted(maxRequests int) bool {
	return s.Count >= maxRequests
}

// Remaining returns the time left in the window.
// Returns 0 if the window has already ended.
func (s State) Remaining(now time.Time, period time.Duration) time.Duration {
	remaining := period - s.Elapsed(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns a fresh state whose window starts at now.
func Reset(now time.Time) State {
	return State{WindowStart: now}
}
