// Package ratelimit tracks the Close API rate limit window and gates
// requests. Close reports its budget in the `ratelimit` response header
// (limit=L, remaining=R, reset=S); the tracker keeps the latest window state
// so scripts slow down before the API starts returning 429s.
package ratelimit

import (
	"time"
)

// RedisKeyState is the Redis key holding the shared rate limit state.
// Sharing through Redis means concurrent script runs against the same org
// draw from one view of the budget.
const RedisKeyState = "closeops:ratelimit:state"

// Window fractions for rate limit decisions.
const (
	// CriticalFraction blocks requests when the remaining budget falls
	// below this share of the window limit.
	CriticalFraction = 0.05

	// WarningFraction throttles requests when the remaining budget falls
	// below this share of the window limit.
	WarningFraction = 0.25
)

// State represents the most recently observed Close rate limit window.
type State struct {
	// Limit is the total number of requests allowed in the window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from a response.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true while the remaining budget is above the warning band.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked until the
// window resets.
func (s *State) NeedsCriticalBlock() bool {
	if s.Limit <= 0 {
		return false
	}
	if !time.Now().Before(s.ResetAt) {
		// Window already rolled over; budget is fresh.
		return false
	}
	return float64(s.Remaining) < float64(s.Limit)*CriticalFraction
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	if s.Limit <= 0 || s.NeedsCriticalBlock() {
		return false
	}
	if !time.Now().Before(s.ResetAt) {
		return false
	}
	return float64(s.Remaining) < float64(s.Limit)*WarningFraction
}

// TimeUntilReset returns the duration until the window resets, or 0 if the
// reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes the IsHealthy flag.
func (s *State) UpdateHealth() {
	s.IsHealthy = !s.NeedsThrottling() && !s.NeedsCriticalBlock()
}
