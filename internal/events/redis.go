package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "MotoMind-Vision/internal/errors"
)

// RedisConfig describes the Redis list sink.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
	MaxLen   int64  `yaml:"maxLen"`
}

// RedisPublisher pushes JSON encoded events onto a capped Redis list, newest first.
type RedisPublisher struct {
	client redis.UniversalClient
	list   string
	maxLen int64
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
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
	return NewRedisPublisherFromClient(client, cfg.List, cfg.MaxLen), nil
}

// NewRedisPublisherFromClient wraps an existing client.
func NewRedisPublisherFromClient(client redis.UniversalClient, list string, maxLen int64) *RedisPublisher {
	if list == "" {
		list = "motomind:capture-events"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisPublisher{client: client, list: list, maxLen: maxLen}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt CaptureEvent) error {
	payload, err := evt.encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "encode capture event")
	}
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.list, payload)
	pipe.LTrim(ctx, p.list, 0, p.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish capture event to redis")
	}
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
