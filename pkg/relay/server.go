package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/metrics"
	"github.com/Sternrassler/sensboxd/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for relayed requests.
var (
	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_relay_requests_total",
		Help: "Relay requests by outcome",
	}, []string{"outcome"})

	relayUpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensboxd_relay_upstream_duration_seconds",
		Help:    "Upstream round-trip duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"host"})
)

// maxInspectedBody caps how much of an API response is buffered to look for
// GraphQL errors.
const maxInspectedBody = 8 << 20

// Limiter is the per-client request budget. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, client string) (*ratelimit.WindowState, bool, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient replaces the SSRF-guarded upstream client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.client = hc }
}

// WithLimiter enables the per-client request budget.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMediaCache caches GET responses from the media host. API responses,
// and with them collection data, are never stored.
func WithMediaCache(c MediaCache) Option {
	return func(s *Server) { s.media = c }
}

// WithReadiness sets the check behind /ready, typically a Redis ping.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// Server relays requests to the allowed upstream hosts.
type Server struct {
	cfg     Config
	allowed map[string]bool
	client  *http.Client
	limiter Limiter
	media   MediaCache
	ready   func(ctx context.Context) error
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a relay server.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.APIHost = strings.ToLower(cfg.APIHost)
	cfg.MediaHost = strings.ToLower(cfg.MediaHost)

	s := &Server{
		cfg:     cfg,
		allowed: make(map[string]bool, len(cfg.AllowedHosts)),
		logger:  log.With().Str("component", "relay").Logger(),
		now:     time.Now,
	}
	for _, h := range cfg.AllowedHosts {
		s.allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = NewSafeClient(cfg.Timeout)
	}
	return s, nil
}

// Routes returns the relay router: /health, /ready, /metrics and the relay path.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc(s.cfg.Path, s.handleRelay)

	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	relayRequestsTotal.WithLabelValues("health").Inc()
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "proxy_ready",
		Message:   "SensBoxd relay is running",
		Timestamp: s.now().Format(time.DateTime),
		Method:    r.Method,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// reject writes a JSON error with CORS headers so browsers can read it.
func (s *Server) reject(w http.ResponseWriter, status int, outcome, code, msg string) {
	relayRequestsTotal.WithLabelValues(outcome).Inc()
	setCORSHeaders(w.Header())
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// targetOf reads csurl from the query or a form body, then X-Proxy-URL.
// body is the request body to forward, with csurl removed from forms.
func targetOf(r *http.Request) (target string, body io.Reader, err error) {
	body = r.Body
	if t := r.URL.Query().Get("csurl"); t != "" {
		return t, body, nil
	}

	ct := r.Header.Get("Content-Type")
	if r.Method == http.MethodPost && strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "", nil, err
		}
		form, err := url.ParseQuery(string(raw))
		if err == nil && form.Get("csurl") != "" {
			t := form.Get("csurl")
			form.Del("csurl")
			return t, strings.NewReader(form.Encode()), nil
		}
		body = bytes.NewReader(raw)
	}

	if t := r.Header.Get("X-Proxy-URL"); t != "" {
		if decoded, err := url.QueryUnescape(t); err == nil {
			t = decoded
		}
		return t, body, nil
	}
	return "", body, nil
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		relayRequestsTotal.WithLabelValues("preflight").Inc()
		setCORSHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	raw, body, err := targetOf(r)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "invalid", "invalid_request", err.Error())
		return
	}
	if raw == "" {
		s.handleHealth(w, r)
		return
	}

	target, err := url.Parse(raw)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		s.reject(w, http.StatusBadRequest, "invalid", "invalid_target", fmt.Sprintf("invalid target url %q", raw))
		return
	}
	if strings.EqualFold(target.Host, r.Host) && strings.HasPrefix(target.Path, s.cfg.Path) {
		s.reject(w, http.StatusBadRequest, "invalid", "invalid_target", "target points back at the relay")
		return
	}
	host := strings.ToLower(target.Hostname())
	if !s.allowed[host] {
		s.logger.Warn().Str("host", host).Msg("Rejected target outside allowlist")
		s.reject(w, http.StatusForbidden, "forbidden", "forbidden_host", fmt.Sprintf("host %s is not allowed", host))
		return
	}

	if !s.allow(w, r) {
		return
	}

	if r.Method == http.MethodGet && target.RawQuery == "" {
		extra := r.URL.Query()
		extra.Del("csurl")
		if len(extra) > 0 {
			target.RawQuery = extra.Encode()
		}
	}

	s.forward(w, r, target, body)
}

// allow applies the rate limit. A Redis failure lets the request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}

	client := clientIP(r)
	state, ok, err := s.limiter.Allow(r.Context(), client)
	if err != nil {
		s.logger.Warn().Err(err).Str("client", client).Msg("Rate limiter unavailable - allowing request")
		return true
	}

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(state.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(state.Remaining()))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(state.ResetAt.Unix(), 10))
	if !ok {
		h.Set("Retry-After", strconv.Itoa(state.RetryAfterSeconds()))
		s.reject(w, http.StatusTooManyRequests, "limited", "rate_limited",
			fmt.Sprintf("too many requests, retry in %ds", state.RetryAfterSeconds()))
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, target *url.URL, body io.Reader) {
	host := strings.ToLower(target.Hostname())
	logger := s.logger.With().
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("method", r.Method).
		Str("target", target.String()).
		Logger()

	if s.media != nil && r.Method == http.MethodGet && host == s.cfg.MediaHost {
		s.forwardMedia(w, r, target, logger)
		return
	}

	var reqBody io.Reader
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		reqBody = body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), reqBody)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "invalid", "invalid_request", err.Error())
		return
	}
	req.Header = s.upstreamHeaders(r.Header, target)
	if reqBody == r.Body {
		req.ContentLength = r.ContentLength
	}

	resp, err := s.roundTrip(req, host, logger)
	if err != nil {
		s.reject(w, http.StatusBadGateway, "upstream_error", "upstream_unreachable", err.Error())
		return
	}
	defer resp.Body.Close()

	if host != s.cfg.APIHost {
		s.stream(w, resp, logger)
		return
	}

	s.copyResponseHeaders(w, resp.Header)
	setCORSHeaders(w.Header())

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxInspectedBody))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read upstream body")
		s.reject(w, http.StatusBadGateway, "upstream_error", "upstream_read_failed", err.Error())
		return
	}
	logGraphQLErrors(logger, payload)

	relayRequestsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(payload); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response body")
	}
}

// roundTrip sends req upstream and records its duration.
func (s *Server) roundTrip(req *http.Request, host string, logger zerolog.Logger) (*http.Response, error) {
	start := time.Now()
	resp, err := s.client.Do(req)
	relayUpstreamDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error().Err(err).Msg("Upstream request failed")
		return nil, err
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("Upstream responded")
	return resp, nil
}

// stream copies resp to w unchanged apart from header filtering.
func (s *Server) stream(w http.ResponseWriter, resp *http.Response, logger zerolog.Logger) {
	s.copyResponseHeaders(w, resp.Header)
	setCORSHeaders(w.Header())
	relayRequestsTotal.WithLabelValues("ok").Inc()
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warn().Err(err).Msg("Failed to stream response body")
	}
}

func logGraphQLErrors(logger zerolog.Logger, payload []byte) {
	if !bytes.Contains(payload, []byte(`"errors"`)) {
		return
	}
	var body struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Errors) == 0 {
		return
	}
	logger.Warn().
		Int("count", len(body.Errors)).
		RawJSON("first", body.Errors[0]).
		Msg("GraphQL errors in upstream response")
}
