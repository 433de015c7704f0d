package ratelimit

import (
	"testing"
	"time"
)

func TestWindowState_Decisions(t *testing.T) {
	tests := []struct {
		name          string
		count         int
		limit         int
		wantRemaining int
		wantBlock     bool
		wantWarning   bool
	}{
		{name: "fresh window", count: 1, limit: 60, wantRemaining: 59},
		{name: "just above warning", count: 48, limit: 60, wantRemaining: 12},
		{name: "warning", count: 49, limit: 60, wantRemaining: 11, wantWarning: true},
		{name: "at limit", count: 60, limit: 60, wantRemaining: 0, wantWarning: true},
		{name: "over limit", count: 61, limit: 60, wantRemaining: 0, wantBlock: true},
		{name: "zero limit", count: 1, limit: 0, wantRemaining: 0, wantBlock: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &WindowState{Count: tt.count, Limit: tt.limit}
			if got := s.Remaining(); got != tt.wantRemaining {
				t.Errorf("Remaining() = %d, want %d", got, tt.wantRemaining)
			}
			if got := s.NeedsBlock(); got != tt.wantBlock {
				t.Errorf("NeedsBlock() = %v, want %v", got, tt.wantBlock)
			}
			if got := s.NeedsWarning(); got != tt.wantWarning {
				t.Errorf("NeedsWarning() = %v, want %v", got, tt.wantWarning)
			}
		})
	}
}

func TestWindowState_TimeUntilReset(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		resetAt time.Time
		want    time.Duration
	}{
		{"future", now.Add(30 * time.Second), 30 * time.Second},
		{"past", now.Add(-5 * time.Second), 0},
	}

	for _, tt := range tests {
		s := &WindowState{ResetAt: tt.resetAt}
		if got := s.timeUntilResetFrom(now); got != tt.want {
			t.Errorf("%s: timeUntilReset = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWindowState_RetryAfterSeconds(t *testing.T) {
	s := &WindowState{ResetAt: time.Now().Add(-time.Second)}
	if got := s.RetryAfterSeconds(); got != 1 {
		t.Errorf("RetryAfterSeconds() past = %d, want 1", got)
	}

	s.ResetAt = time.Now().Add(10*time.Second + 500*time.Millisecond)
	if got := s.RetryAfterSeconds(); got < 10 || got > 11 {
		t.Errorf("RetryAfterSeconds() = %d, want 10 or 11", got)
	}
}

func TestWindowKey(t *testing.T) {
	start := time.Unix(1700000040, 0)
	if got := WindowKey("203.0.113.7", start); got != "sensboxd:relay:ratelimit:203.0.113.7:1700000040" {
		t.Errorf("WindowKey() = %q", got)
	}
}
