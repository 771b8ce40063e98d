package ratelimit

import (
	"testing"
	"time"
)

func TestState_Expired(t *testing.T) {
	start := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		expected bool
	}{
		{
			name:     "fresh window",
			now:      start.Add(10 * time.Minute),
			expected: false,
		},
		{
			name:     "just under period",
			now:      start.Add(time.Hour - time.Millisecond),
			expected: false,
		},
		{
			name:     "exactly one period",
			now:      start.Add(time.Hour),
			expected: true,
		},
		{
			name:     "long past",
			now:      start.Add(5 * time.Hour),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := State{WindowStart: start}
			if got := state.Expired(tt.now, time.Hour); got != tt.expected {
				t.Errorf("Expired() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Exhausted(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		expected bool
	}{
		{name: "empty", count: 0, expected: false},
		{name: "one below budget", count: 4999, expected: false},
		{name: "at budget", count: 5000, expected: true},
		{name: "over budget", count: 5001, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := State{Count: tt.count}
			if got := state.Exhausted(DefaultMaxRequests); got != tt.expected {
				t.Errorf("Exhausted() = %v, want %v (count=%d)", got, tt.expected, tt.count)
			}
		})
	}
}

func TestState_Remaining(t *testing.T) {
	start := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	state := State{WindowStart: start}

	if got := state.Remaining(start.Add(20*time.Minute), time.Hour); got != 40*time.Minute {
		t.Errorf("Remaining() = %v, want 40m", got)
	}

	if got := state.Remaining(start.Add(2*time.Hour), time.Hour); got != 0 {
		t.Errorf("Remaining() after window = %v, want 0", got)
	}
}
