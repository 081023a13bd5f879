package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxsync/ratesync/internal/core/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Cache is a Redis-backed private read-cache. The logical TTL lives inside
// the stored entry; the physical Redis TTL is logical TTL plus the
// stale-retention window, so an expired-but-retained entry can still be
// served (tagged stale) while the canonical store is unreachable.
type Cache struct {
	client         *goredis.Client
	staleRetention time.Duration
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, redisURL string, staleRetention time.Duration) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, staleRetention: staleRetention}, nil
}

// Get returns the entry for a key, expired or not.
func (c *Cache) Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &entry, true, nil
}

// Set stores a snapshot under the key with the given logical TTL.
func (c *Cache) Set(ctx context.Context, key string, record domain.RateRecord, ttl time.Duration) error {
	entry := domain.CacheEntry{
		Record:   record,
		StoredAt: time.Now().UTC(),
		TTL:      ttl,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl+c.staleRetention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete drops the given keys unconditionally.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
