package mediacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned when no entry exists for a key.
	ErrMiss = errors.New("media cache miss")

	// ErrInvalidEntry is returned for undecodable entries.
	ErrInvalidEntry = errors.New("invalid media cache entry")
)

// DefaultStaleFor is how long a revalidatable entry is kept past expiry.
const DefaultStaleFor = time.Hour

// Cache stores entries in Redis.
type Cache struct {
	redis    *redis.Client
	staleFor time.Duration
	now      func() time.Time
}

// New creates a cache. staleFor <= 0 uses DefaultStaleFor.
func New(redisClient *redis.Client, staleFor time.Duration) (*Cache, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if staleFor <= 0 {
		staleFor = DefaultStaleFor
	}
	return &Cache{redis: redisClient, staleFor: staleFor, now: time.Now}, nil
}

// Get returns the entry for key, fresh or stale. Callers check Fresh.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			Lookups.WithLabelValues("miss").Inc()
			return nil, ErrMiss
		}
		Errors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		Errors.WithLabelValues("get").Inc()
		_ = c.Delete(ctx, key)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.Fresh(c.now()) {
		Lookups.WithLabelValues("fresh").Inc()
	} else {
		Lookups.WithLabelValues("stale").Inc()
	}
	return &entry, nil
}

// Set stores entry until it expires, plus the stale window when it can be
// revalidated. Entries with nothing left to keep are skipped.
func (c *Cache) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("media cache entry cannot be nil")
	}

	ttl := entry.TTL(c.now())
	if entry.CanRevalidate() {
		ttl += c.staleFor
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal media cache entry: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		Errors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	StoredBytes.Add(float64(len(data)))
	return nil
}

// Refresh moves the expiry of a revalidated entry and stores it again.
func (c *Cache) Refresh(ctx context.Context, key string, entry *Entry, expires time.Time) error {
	if entry == nil {
		return fmt.Errorf("media cache entry cannot be nil")
	}
	entry.Expires = expires
	if err := c.Set(ctx, key, entry); err != nil {
		return err
	}
	Revalidations.Inc()
	return nil
}

// Delete removes an entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		Errors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
