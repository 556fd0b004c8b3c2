package events

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures the event sink.
type Config struct {
	Driver   string         `yaml:"driver"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// NewPublisher builds the publisher named by cfg.Driver (memory, redis or rabbitmq).
func NewPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryPublisher(cfg.Buffer), nil
	case "redis":
		return NewRedisPublisher(ctx, cfg.Redis)
	case "rabbitmq", "amqp":
		return NewRabbitMQPublisher(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
