package mediacache

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func response(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       &http.Request{Method: http.MethodGet},
	}
}

func TestCacheable(t *testing.T) {
	post := response(http.StatusOK, nil, "x")
	post.Request = &http.Request{Method: http.MethodPost}

	tests := []struct {
		name string
		resp *http.Response
		want bool
	}{
		{"plain 200", response(http.StatusOK, nil, "img"), true},
		{"public max-age", response(http.StatusOK, http.Header{"Cache-Control": {"public, max-age=600"}}, "img"), true},
		{"no-store", response(http.StatusOK, http.Header{"Cache-Control": {"no-store"}}, "img"), false},
		{"private", response(http.StatusOK, http.Header{"Cache-Control": {"private, max-age=60"}}, "img"), false},
		{"not found", response(http.StatusNotFound, nil, ""), false},
		{"post", post, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cacheable(tt.resp); got != tt.want {
				t.Errorf("Cacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiresFrom(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header http.Header
		want   time.Time
	}{
		{"max-age", http.Header{"Cache-Control": {"max-age=3600"}}, now.Add(time.Hour)},
		{"max-age wins over expires", http.Header{
			"Cache-Control": {"max-age=60"},
			"Expires":       {now.Add(time.Hour).Format(http.TimeFormat)},
		}, now.Add(time.Minute)},
		{"expires", http.Header{"Expires": {now.Add(2 * time.Hour).Format(http.TimeFormat)}}, now.Add(2 * time.Hour)},
		{"past expires", http.Header{"Expires": {now.Add(-time.Hour).Format(http.TimeFormat)}}, now},
		{"bad expires", http.Header{"Expires": {"0"}}, now.Add(DefaultTTL)},
		{"no-cache", http.Header{"Cache-Control": {"no-cache, max-age=600"}}, now},
		{"nothing", http.Header{}, now.Add(DefaultTTL)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiresFrom(tt.header, now); !got.Equal(tt.want) {
				t.Errorf("ExpiresFrom() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromResponse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lastMod := now.Add(-24 * time.Hour)

	resp := response(http.StatusOK, http.Header{
		"Content-Type":  {"image/jpeg"},
		"Etag":          {`"abc"`},
		"Last-Modified": {lastMod.Format(http.TimeFormat)},
		"Cache-Control": {"max-age=300"},
	}, "jpeg-bytes")

	entry, err := FromResponse(resp, now)
	if err != nil {
		t.Fatalf("FromResponse() error = %v", err)
	}
	if string(entry.Body) != "jpeg-bytes" || entry.ETag != `"abc"` || entry.StatusCode != http.StatusOK {
		t.Errorf("entry = %+v", entry)
	}
	if !entry.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, lastMod)
	}
	if !entry.Expires.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("Expires = %v", entry.Expires)
	}
	if entry.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("Content-Type = %q", entry.Header.Get("Content-Type"))
	}

	rest, _ := io.ReadAll(resp.Body)
	if string(rest) != "jpeg-bytes" {
		t.Errorf("restored body = %q", rest)
	}
}

func TestFromResponse_TooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("x"), MaxBodySize+10)
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{},
		Body:          io.NopCloser(bytes.NewReader(big)),
		ContentLength: -1,
	}

	_, err := FromResponse(resp, time.Now())
	if !errors.Is(err, ErrNotCacheable) {
		t.Fatalf("error = %v, want ErrNotCacheable", err)
	}
	rest, _ := io.ReadAll(resp.Body)
	if len(rest) != len(big) {
		t.Errorf("restored %d bytes, want %d", len(rest), len(big))
	}
}

func TestFromResponse_Nil(t *testing.T) {
	if _, err := FromResponse(nil, time.Now()); err == nil {
		t.Error("expected error for nil response")
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name          string
		entry         *Entry
		wantNoneMatch string
		wantModSince  string
	}{
		{"etag preferred", &Entry{ETag: `"v2"`, LastModified: lastMod}, `"v2"`, ""},
		{"last modified", &Entry{LastModified: lastMod}, "", lastMod.Format(http.TimeFormat)},
		{"no validator", &Entry{}, "", ""},
		{"nil entry", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "https://media.senscritique.com/p.jpg", nil)
			AddConditionalHeaders(req, tt.entry)
			if got := req.Header.Get("If-None-Match"); got != tt.wantNoneMatch {
				t.Errorf("If-None-Match = %q, want %q", got, tt.wantNoneMatch)
			}
			if got := req.Header.Get("If-Modified-Since"); got != tt.wantModSince {
				t.Errorf("If-Modified-Since = %q, want %q", got, tt.wantModSince)
			}
		})
	}
}
