package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind. Match with errors.Is.
var (
	// ErrInvalidUsername is returned for an empty or blank username.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidRequest is returned for a non-positive limit or a negative offset.
	ErrInvalidRequest = errors.New("invalid page request")

	// ErrProfileUnavailable means the API found no such user (private or nonexistent profile).
	ErrProfileUnavailable = errors.New("profile unavailable")

	// ErrTransportFailure means the relay or the remote host could not be reached.
	ErrTransportFailure = errors.New("transport failure")

	// ErrRemoteRejected means the API answered with a GraphQL error list.
	ErrRemoteRejected = errors.New("remote rejected request")

	// ErrMalformedResponse means the response did not have the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// ErrorKind classifies a catalog failure for logs and metrics.
type ErrorKind string

const (
	KindProfileUnavailable ErrorKind = "profile_unavailable"
	KindTransport          ErrorKind = "transport"
	KindRemoteRejected     ErrorKind = "remote_rejected"
	KindMalformed          ErrorKind = "malformed_response"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindProfileUnavailable:
		return ErrProfileUnavailable
	case KindTransport:
		return ErrTransportFailure
	case KindRemoteRejected:
		return ErrRemoteRejected
	case KindMalformed:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// Error is a classified catalog failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int

	// Message and Code come from the first GraphQL error for KindRemoteRejected.
	Message string
	Code    string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("catalog %s", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a catalog error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
