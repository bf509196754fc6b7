package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned when the operator token resolves to nothing,
// either unknown or already expired.
var ErrSessionNotFound = errors.New("session not found")

const sessionKeyPrefix = "reserva:session:"

// RedisSessionRepository хранит сессии операторов в Redis с TTL.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *RedisSessionRepository {
	var repoLogger zerolog.Logger
	if logger != nil {
		repoLogger = logger.With().Str("component", "redis-sessions").Logger()
	}
	return &RedisSessionRepository{client: client, ttl: ttl, logger: repoLogger}
}

var _ domain.SessionRepository = (*RedisSessionRepository)(nil)

func (r *RedisSessionRepository) GetSession(ctx context.Context, token string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) PutSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := r.ttl
	if !session.ExpiresAt.IsZero() {
		if until := time.Until(session.ExpiresAt); until > 0 {
			ttl = until
		}
	}

	if err := r.client.Set(ctx, sessionKeyPrefix+session.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session in redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) DeleteSession(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}
