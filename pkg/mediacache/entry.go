// Package mediacache stores relayed media responses (posters, avatars) in
// Redis. Entries outlive their freshness by a stale window so the relay can
// revalidate them with If-None-Match or If-Modified-Since instead of
// downloading the image again.
package mediacache

import (
	"net/http"
	"time"
)

// Entry is one cached upstream response.
type Entry struct {
	Body         []byte      `json:"body"`
	StatusCode   int         `json:"status_code"`
	Header       http.Header `json:"header"`
	ETag         string      `json:"etag"`
	LastModified time.Time   `json:"last_modified"`
	Expires      time.Time   `json:"expires"`
	StoredAt     time.Time   `json:"stored_at"`
}

// Fresh reports whether the entry can be served without asking upstream.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.Expires)
}

// TTL returns the remaining freshness, never negative.
func (e *Entry) TTL(now time.Time) time.Duration {
	return max(e.Expires.Sub(now), 0)
}

// CanRevalidate reports whether a stale entry carries a validator.
func (e *Entry) CanRevalidate() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}
