// Package cache stores serialized object representations in Redis so
// repeated reads skip serialization. Entries are invalidated after
// every write and expire on a TTL as a backstop.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL bounds how stale an entry can get if an invalidation is
// lost.
const DefaultTTL = 1 * time.Hour

// SerializationCache caches serialized objects keyed by model and
// primary key.
type SerializationCache interface {
	// Get returns the cached serialization, or nil on a miss.
	Get(ctx context.Context, modelName string, pk int64) (map[string]interface{}, error)
	Set(ctx context.Context, modelName string, pk int64, data map[string]interface{}) error
	Invalidate(ctx context.Context, modelName string, pk int64) error
	// InvalidateModel removes every entry of one model.
	InvalidateModel(ctx context.Context, modelName string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache implements SerializationCache on a Redis server.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis server at url and verifies the
// connection. A zero ttl falls back to DefaultTTL.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheFromClient wraps an existing client. Used by tests.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(modelName string, pk int64) string {
	return fmt.Sprintf("serialization:%s:%d", modelName, pk)
}

// Get retrieves a cached serialization. A miss returns nil without an
// error.
func (c *RedisCache) Get(ctx context.Context, modelName string, pk int64) (map[string]interface{}, error) {
	key := cacheKey(modelName, pk)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		// corrupt data is worse than a miss
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal cached %s: %w", modelName, err)
	}
	return out, nil
}

// Set stores a serialization with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, modelName string, pk int64, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", modelName, err)
	}
	return c.client.Set(ctx, cacheKey(modelName, pk), payload, c.ttl).Err()
}

// Invalidate removes one entry.
func (c *RedisCache) Invalidate(ctx context.Context, modelName string, pk int64) error {
	return c.client.Del(ctx, cacheKey(modelName, pk)).Err()
}

// InvalidateModel removes every entry of the model using SCAN.
func (c *RedisCache) InvalidateModel(ctx context.Context, modelName string) error {
	pattern := fmt.Sprintf("serialization:%s:*", modelName)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache satisfies SerializationCache without caching anything.
// Used when no Redis server is configured.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, modelName string, pk int64) (map[string]interface{}, error) {
	return nil, nil
}

func (NoopCache) Set(ctx context.Context, modelName string, pk int64, data map[string]interface{}) error {
	return nil
}

func (NoopCache) Invalidate(ctx context.Context, modelName string, pk int64) error {
	return nil
}

func (NoopCache) InvalidateModel(ctx context.Context, modelName string) error {
	return nil
}

func (NoopCache) Ping(ctx context.Context) error { return nil }

func (NoopCache) Close() error { return nil }
