package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a go-redis client for caching fetched source text. Optional:
// when no Redis URL is configured the fetcher runs without it and every load
// hits the network (subject to the expiry gate above it).
type Redis struct {
	client *redis.Client
}

// NewRedis parses a Redis URL (e.g. "redis://host:6379/0") and returns a
// client. Call Ping to verify the connection.
func NewRedis(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close shuts down the client.
func (r *Redis) Close() error { return r.client.Close() }

// GetText returns the cached body for key. ok is false on miss.
func (r *Redis) GetText(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

// SetText stores body under key with the given TTL. Errors are returned so
// callers can log them; a failed set never fails the fetch.
func (r *Redis) SetText(ctx context.Context, key, body string, ttl time.Duration) error {
	return r.client.Set(ctx, key, body, ttl).Err()
}
