// Package ratelimit implements the relay's shared request budget: a
// fixed-window request counter per client, stored in Redis so that several
// relay instances enforce one limit.
package ratelimit

import (
	"fmt"
	"time"
)

// KeyPrefix namespaces the window counters in Redis.
const KeyPrefix = "sensboxd:relay:ratelimit"

// WarningRatio is the share of the budget below which requests are logged as
// approaching the limit.
const WarningRatio = 0.2

// WindowState is one client's usage of the current window.
type WindowState struct {
	// Client identifies the caller (usually its IP address).
	Client string `json:"client"`

	// Count is the number of requests seen in this window, including the current one.
	Count int `json:"count"`

	// Limit is the number of requests allowed per window.
	Limit int `json:"limit"`

	// WindowStart is the beginning of the fixed window.
	WindowStart time.Time `json:"window_start"`

	// ResetAt is when the next window starts.
	ResetAt time.Time `json:"reset_at"`
}

// WindowKey returns the Redis key for client's window starting at start.
func WindowKey(client string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", KeyPrefix, client, start.Unix())
}

// Remaining returns how many requests are left in the window, never negative.
func (s *WindowState) Remaining() int {
	return max(s.Limit-s.Count, 0)
}

// NeedsBlock returns true if the request that produced this state exceeds the budget.
func (s *WindowState) NeedsBlock() bool {
	return s.Count > s.Limit
}

// NeedsWarning returns true when the budget is nearly spent but not exceeded.
func (s *WindowState) NeedsWarning() bool {
	if s.NeedsBlock() || s.Limit <= 0 {
		return false
	}
	return float64(s.Remaining()) < float64(s.Limit)*WarningRatio
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *WindowState) TimeUntilReset() time.Duration {
	return s.timeUntilResetFrom(time.Now())
}

func (s *WindowState) timeUntilResetFrom(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RetryAfterSeconds is the Retry-After value for a blocked request, at least 1.
func (s *WindowState) RetryAfterSeconds() int {
	secs := int((s.TimeUntilReset() + time.Second - 1) / time.Second)
	return max(secs, 1)
}
