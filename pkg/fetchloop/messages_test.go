package fetchloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Sternrassler/sensboxd/pkg/catalog"
)

func TestMessages_For(t *testing.T) {
	m := DefaultMessages()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"superseded", ErrSuperseded, ""},
		{"invalid username", catalog.ErrInvalidUsername, m.InvalidUsername},
		{"profile", fmt.Errorf("page 1: %w", &catalog.Error{Kind: catalog.KindProfileUnavailable}), m.ProfileUnavailable},
		{"transport", &catalog.Error{Kind: catalog.KindTransport}, m.LoadFailed},
		{"malformed", &catalog.Error{Kind: catalog.KindMalformed}, m.LoadFailed},
		{"canceled", context.Canceled, m.LoadFailed},
		{"plain", errors.New("boom"), m.LoadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.For(tt.err); got != tt.want {
				t.Errorf("For() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessages_RemoteRejectedDetails(t *testing.T) {
	m := DefaultMessages()
	got := m.For(&catalog.Error{Kind: catalog.KindRemoteRejected, Message: "Too many requests", Code: "RATE_LIMITED"})
	if !strings.HasPrefix(got, m.LoadFailed) || !strings.Contains(got, "RATE_LIMITED: Too many requests") {
		t.Errorf("For() = %q", got)
	}
}

func TestMessages_PageAndLoading(t *testing.T) {
	m := DefaultMessages()
	if got := m.Page(3); !strings.Contains(got, "page 3 ") {
		t.Errorf("Page(3) = %q", got)
	}
	if m.LoadingAt(0) != m.LoadingAt(len(m.Loading)) {
		t.Error("LoadingAt does not cycle")
	}
	if (Messages{}).LoadingAt(4) != "" {
		t.Error("LoadingAt with no messages should be empty")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle: "idle", StateFetching: "fetching", StateContinuing: "continuing",
		StatePaused: "paused", StateFailed: "failed",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
	if !StateFailed.Terminal() || StatePaused.Terminal() {
		t.Error("Terminal() mismatch")
	}
}
