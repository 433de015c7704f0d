package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/mediacache"
	"github.com/rs/zerolog"
)

// CacheStatusHeader tells clients how a media response was served.
const CacheStatusHeader = "X-Cache"

// MediaCache stores media responses. *mediacache.Cache implements it.
type MediaCache interface {
	Get(ctx context.Context, key string) (*mediacache.Entry, error)
	Set(ctx context.Context, key string, entry *mediacache.Entry) error
	Refresh(ctx context.Context, key string, entry *mediacache.Entry, expires time.Time) error
}

// forwardMedia serves fresh entries from the cache, revalidates stale ones
// and stores cacheable upstream responses. Cache failures fall back to a
// plain upstream request. A stale entry is served when upstream is down.
func (s *Server) forwardMedia(w http.ResponseWriter, r *http.Request, target *url.URL, logger zerolog.Logger) {
	ctx := r.Context()
	key := mediacache.Key(target)

	entry, err := s.media.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, mediacache.ErrMiss) {
			logger.Warn().Err(err).Msg("Media cache unavailable - fetching upstream")
		}
		entry = nil
	}

	now := s.now()
	if entry != nil && entry.Fresh(now) {
		s.serveEntry(w, entry, "HIT", logger)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "invalid", "invalid_request", err.Error())
		return
	}
	req.Header = s.upstreamHeaders(r.Header, target)
	req.Header.Del("If-None-Match")
	req.Header.Del("If-Modified-Since")
	if entry != nil {
		mediacache.AddConditionalHeaders(req, entry)
	}

	resp, err := s.roundTrip(req, strings.ToLower(target.Hostname()), logger)
	if err != nil {
		if entry != nil {
			s.serveEntry(w, entry, "STALE", logger)
			return
		}
		s.reject(w, http.StatusBadGateway, "upstream_error", "upstream_unreachable", err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		if err := s.media.Refresh(ctx, key, entry, mediacache.ExpiresFrom(resp.Header, now)); err != nil {
			logger.Warn().Err(err).Msg("Failed to refresh media cache entry")
		}
		s.serveEntry(w, entry, "REVALIDATED", logger)
		return
	}

	if mediacache.Cacheable(resp) {
		fresh, err := mediacache.FromResponse(resp, now)
		if err == nil {
			if err := s.media.Set(ctx, key, fresh); err != nil {
				logger.Warn().Err(err).Msg("Failed to store media cache entry")
			}
			s.serveEntry(w, fresh, "MISS", logger)
			return
		}
		if !errors.Is(err, mediacache.ErrNotCacheable) {
			logger.Error().Err(err).Msg("Failed to read upstream body")
			s.reject(w, http.StatusBadGateway, "upstream_error", "upstream_read_failed", err.Error())
			return
		}
	}

	w.Header().Set(CacheStatusHeader, "BYPASS")
	s.stream(w, resp, logger)
}

func (s *Server) serveEntry(w http.ResponseWriter, entry *mediacache.Entry, status string, logger zerolog.Logger) {
	s.copyResponseHeaders(w, entry.Header)
	setCORSHeaders(w.Header())
	w.Header().Set(CacheStatusHeader, status)

	outcome := "cached"
	if status == "MISS" {
		outcome = "ok"
	}
	relayRequestsTotal.WithLabelValues(outcome).Inc()

	w.WriteHeader(entry.StatusCode)
	if _, err := w.Write(entry.Body); err != nil {
		logger.Warn().Err(err).Msg("Failed to write cached body")
	}
}
