package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"reserva/internal/config"
	"reserva/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisSink mirrors change events onto Redis pub/sub channels so consoles in
// other processes receive the same feed as in-process subscribers. One
// channel per entity type: <prefix>:<entity_type>.
type RedisSink struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisClient создает новый клиент Redis на основе конфигурации.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSink(client *redis.Client, prefix string, logger *zerolog.Logger) *RedisSink {
	if prefix == "" {
		prefix = "reserva:events"
	}
	var sinkLogger zerolog.Logger
	if logger != nil {
		sinkLogger = logger.With().Str("component", "redis-sink").Logger()
	}
	return &RedisSink{client: client, prefix: prefix, logger: sinkLogger}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, event models.ChangeEvent) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", s.prefix, event.EntityType)
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
