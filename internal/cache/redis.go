// Package cache stores computed band tables in Redis keyed by dataset fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"price-band-lab/internal/domain"
)

// ErrMiss is returned when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "pricebands:v1:"

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Key returns the Redis key for a run key.
func Key(runKey string) string {
	return keyPrefix + runKey
}

// Connect parses a redis:// URL and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCache stores band rows as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client. A non-positive ttl uses DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached rows for runKey or ErrMiss.
func (c *RedisCache) Get(ctx context.Context, runKey string) ([]*domain.BandRow, error) {
	val, err := c.client.Get(ctx, Key(runKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached bands: %w", err)
	}

	var rows []*domain.BandRow
	if err := json.Unmarshal(val, &rows); err != nil {
		return nil, fmt.Errorf("decode cached bands: %w", err)
	}
	return rows, nil
}

// Set stores rows under runKey with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, runKey string, rows []*domain.BandRow) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode bands: %w", err)
	}
	if err := c.client.Set(ctx, Key(runKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached bands: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
