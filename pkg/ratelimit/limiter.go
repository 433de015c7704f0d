package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the relay request budget.
var (
	relayRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensboxd_relay_rate_limit_blocks_total",
		Help: "Total number of relay requests blocked by the per-client budget",
	})

	relayRateLimitWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensboxd_relay_rate_limit_warnings_total",
		Help: "Total number of relay requests allowed with less than 20% of the budget left",
	})

	relayRateLimitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensboxd_relay_rate_limit_errors_total",
		Help: "Total number of Redis errors while counting relay requests",
	})
)

// Limiter counts requests per client in fixed windows.
type Limiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter allowing limit requests per window and client.
func NewLimiter(redisClient *redis.Client, limit int, window time.Duration, logger zerolog.Logger) (*Limiter, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window < time.Second {
		return nil, fmt.Errorf("window must be at least 1s, got %s", window)
	}
	return &Limiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (l *Limiter) windowFor(now time.Time) (time.Time, time.Time) {
	start := now.Truncate(l.window)
	return start, start.Add(l.window)
}

// Allow counts one request for client and reports whether it fits the budget.
// On a Redis error the returned state is nil and the caller decides whether
// to fail open.
func (l *Limiter) Allow(ctx context.Context, client string) (*WindowState, bool, error) {
	start, reset := l.windowFor(l.now())
	key := WindowKey(client, start)

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		relayRateLimitErrorsTotal.Inc()
		return nil, false, fmt.Errorf("count request in redis: %w", err)
	}

	state := &WindowState{
		Client:      client,
		Count:       int(incr.Val()),
		Limit:       l.limit,
		WindowStart: start,
		ResetAt:     reset,
	}

	if state.NeedsBlock() {
		l.logger.Warn().
			Str("client", client).
			Int("count", state.Count).
			Int("limit", state.Limit).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Relay budget exceeded - blocking request")

		relayRateLimitBlocksTotal.Inc()
		return state, false, nil
	}

	if state.NeedsWarning() {
		l.logger.Warn().
			Str("client", client).
			Int("remaining", state.Remaining()).
			Msg("Relay budget nearly spent")

		relayRateLimitWarningsTotal.Inc()
	}

	return state, true, nil
}

// State returns client's usage of the current window without counting a request.
func (l *Limiter) State(ctx context.Context, client string) (*WindowState, error) {
	start, reset := l.windowFor(l.now())

	count, err := l.redis.Get(ctx, WindowKey(client, start)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get window count: %w", err)
	}

	return &WindowState{
		Client:      client,
		Count:       count,
		Limit:       l.limit,
		WindowStart: start,
		ResetAt:     reset,
	}, nil
}
