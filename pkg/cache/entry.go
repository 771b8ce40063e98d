package cache

import (
	"time"
)

// Entry is a cached listing body.
type Entry struct {
	Body []byte `json:"body"`

	StoredAt time.Time `json:"stored_at"`

	// FreshUntil is when the entry turns stale.
	FreshUntil time.Time `json:"fresh_until"`
}

// NewEntry creates an entry stored at now that stays fresh for ttl.
func NewEntry(body []byte, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Body:       body,
		StoredAt:   now,
		FreshUntil: now.Add(ttl),
	}
}

// Fresh reports whether the entry may be served without reloading.
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.FreshUntil)
}

// Age returns how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	if now.Before(e.StoredAt) {
		return 0
	}
	return now.Sub(e.StoredAt)
}
