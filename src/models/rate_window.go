package models

import "time"

// RateWindowEntry tracks attempts for one scope key inside one window.
// ScopeKey is an IP for auth throttling and identity|date for daily quotas.
type RateWindowEntry struct {
	ScopeKey     string
	WindowStart  time.Time
	Count        int64
	BlockedUntil *time.Time
}

// Expired reports whether the window that started at WindowStart has elapsed
func (e *RateWindowEntry) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(e.WindowStart) > window
}

// Blocked reports whether a block is still in effect at now
func (e *RateWindowEntry) Blocked(now time.Time) bool {
	return e.BlockedUntil != nil && now.Before(*e.BlockedUntil)
}

// Reset starts a fresh window at now with a single counted attempt
func (e *RateWindowEntry) Reset(now time.Time) {
	e.WindowStart = now
	e.Count = 1
	e.BlockedUntil = nil
}
