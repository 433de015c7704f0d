package mediacache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL applies when upstream sends neither max-age nor Expires.
	DefaultTTL = 10 * time.Minute

	// MaxBodySize is the largest body that is cached. Bigger responses are
	// streamed through.
	MaxBodySize = 4 << 20
)

// ErrNotCacheable is returned by FromResponse for bodies over MaxBodySize.
var ErrNotCacheable = errors.New("response not cacheable")

// Cacheable reports whether resp may be stored: a 200 to a GET without
// no-store or private.
func Cacheable(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Request != nil && resp.Request.Method != http.MethodGet {
		return false
	}
	if resp.ContentLength > MaxBodySize {
		return false
	}
	cc := cacheControl(resp.Header)
	_, noStore := cc["no-store"]
	_, private := cc["private"]
	return !noStore && !private
}

// FromResponse reads resp into an entry. The body is restored so the caller
// can still stream it when ErrNotCacheable is returned.
func FromResponse(resp *http.Response, now time.Time) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(body) > MaxBodySize {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil, ErrNotCacheable
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		ETag:       resp.Header.Get("ETag"),
		Expires:    ExpiresFrom(resp.Header, now),
		StoredAt:   now,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}
	return entry, nil
}

// ExpiresFrom derives the expiry from Cache-Control max-age, then Expires,
// then DefaultTTL. A past Expires yields now.
func ExpiresFrom(h http.Header, now time.Time) time.Time {
	cc := cacheControl(h)
	if _, ok := cc["no-cache"]; ok {
		return now
	}
	if v, ok := cc["max-age"]; ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return now.Add(time.Duration(secs) * time.Second)
		}
	}

	raw := h.Get("Expires")
	if raw == "" {
		return now.Add(DefaultTTL)
	}
	expires, err := http.ParseTime(raw)
	if err != nil {
		return now.Add(DefaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when the
// entry has no ETag.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}

func cacheControl(h http.Header) map[string]string {
	out := make(map[string]string)
	for _, line := range h.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
			if name == "" {
				continue
			}
			out[strings.ToLower(name)] = strings.Trim(value, `"`)
		}
	}
	return out
}
