// Command sensboxd-relay serves the CORS relay used by browsers and the
// sensboxd CLI to reach the SensCritique API.
//
// Configuration comes from the file named by SENSBOXD_CONFIG (optional),
// then from environment variables: PORT, REDIS_URL, RATE_LIMIT, MEDIA_CACHE,
// LOG_LEVEL.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/sensboxd/pkg/config"
	"github.com/Sternrassler/sensboxd/pkg/logging"
	"github.com/Sternrassler/sensboxd/pkg/mediacache"
	"github.com/Sternrassler/sensboxd/pkg/ratelimit"
	"github.com/Sternrassler/sensboxd/pkg/relay"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Relay stopped")
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LoggingConfig(os.Stderr))

	var redisClient *redis.Client
	if cfg.Relay.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Relay.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.Relay.RedisAddr).Msg("Connected to Redis")
	}

	handler, err := newHandler(cfg, redisClient)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Relay.Addr).
			Str("path", cfg.Relay.Path).
			Strs("allowed_hosts", cfg.Relay.AllowedHosts).
			Int("rate_limit", cfg.Relay.RateLimit).
			Bool("media_cache", cfg.Relay.MediaCache).
			Msg("Starting relay server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down relay server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfig reads the optional config file and applies environment overrides.
func loadConfig(getenv func(string) string) (config.Config, error) {
	env := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}

	cfg, err := config.Load(env("SENSBOXD_CONFIG", ""))
	if err != nil {
		return cfg, err
	}

	if port := env("PORT", ""); port != "" {
		cfg.Relay.Addr = ":" + port
	}
	cfg.Relay.RedisAddr = env("REDIS_URL", cfg.Relay.RedisAddr)
	cfg.Log.Level = env("LOG_LEVEL", cfg.Log.Level)
	if raw := env("RATE_LIMIT", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("RATE_LIMIT: %w", err)
		}
		cfg.Relay.RateLimit = n
	}
	if raw := env("MEDIA_CACHE", ""); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("MEDIA_CACHE: %w", err)
		}
		cfg.Relay.MediaCache = on
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Relay.RateLimit > 0 && cfg.Relay.RedisAddr == "" {
		return cfg, fmt.Errorf("relay.rateLimit requires relay.redisAddr (REDIS_URL)")
	}
	if cfg.Relay.MediaCache && cfg.Relay.RedisAddr == "" {
		return cfg, fmt.Errorf("relay.mediaCache requires relay.redisAddr (REDIS_URL)")
	}
	return cfg, nil
}

// newHandler wires the relay. A nil redisClient disables the rate limit and
// the media cache and makes /ready unconditional.
func newHandler(cfg config.Config, redisClient *redis.Client) (http.Handler, error) {
	var opts []relay.Option
	if redisClient != nil {
		opts = append(opts, relay.WithReadiness(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))

		if cfg.Relay.RateLimit > 0 {
			limiter, err := ratelimit.NewLimiter(redisClient, cfg.Relay.RateLimit, cfg.RelayRateWindow(),
				logging.NewLogger("relay-ratelimit"))
			if err != nil {
				return nil, err
			}
			opts = append(opts, relay.WithLimiter(limiter))
		}

		if cfg.Relay.MediaCache {
			cache, err := mediacache.New(redisClient, cfg.RelayMediaStale())
			if err != nil {
				return nil, err
			}
			opts = append(opts, relay.WithMediaCache(cache))
		}
	}

	srv, err := relay.New(cfg.RelayConfig(), opts...)
	if err != nil {
		return nil, err
	}
	return srv.Routes(), nil
}
