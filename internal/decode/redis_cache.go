package decode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/logger"
)

// RedisCacheConfig describes the shared cache connection.
type RedisCacheConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RedisCache shares decoded vehicles between daemon replicas. Entries are
// stored as JSON with a Redis TTL matching ExpiresAt.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheFromClient(client, cfg.Prefix), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "motomind:vin:"
	}
	return &RedisCache{client: client, prefix: prefix, now: time.Now, logger: logger.Named("decode-cache")}
}

// Get implements Cache. Redis errors are logged and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (vin.DecodedVehicleInfo, bool) {
	entry, ok := c.entry(ctx, key)
	return entry.Info, ok
}

func (c *RedisCache) entry(ctx context.Context, key string) (Entry, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("redis cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return Entry{}, false
	}
	if entry.Expired(c.now()) {
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return Entry{}, false
	}
	return entry, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, info vin.DecodedVehicleInfo, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(Entry{Info: info, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("redis cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping verifies the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
