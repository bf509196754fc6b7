package repository

import (
	"context"
	"errors"

	"reserva/internal/domain"
	"reserva/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSessionRepository reads through Redis and falls back to the memory
// store when Redis is unavailable. Writes go to both so a Redis blip does not
// log every operator out.
type FailoverSessionRepository struct {
	primary  domain.SessionRepository
	fallback domain.SessionRepository
	logger   zerolog.Logger
}

func NewFailoverSessionRepository(primary, fallback domain.SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	var repoLogger zerolog.Logger
	if logger != nil {
		repoLogger = logger.With().Str("component", "failover-sessions").Logger()
	}
	return &FailoverSessionRepository{primary: primary, fallback: fallback, logger: repoLogger}
}

var _ domain.SessionRepository = (*FailoverSessionRepository)(nil)

func (f *FailoverSessionRepository) GetSession(ctx context.Context, token string) (*models.Session, error) {
	session, err := f.primary.GetSession(ctx, token)
	if err == nil {
		return session, nil
	}
	if errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	f.logger.Warn().Err(err).Msg("primary session store unavailable, using fallback")
	return f.fallback.GetSession(ctx, token)
}

func (f *FailoverSessionRepository) PutSession(ctx context.Context, session *models.Session) error {
	if err := f.fallback.PutSession(ctx, session); err != nil {
		return err
	}
	if err := f.primary.PutSession(ctx, session); err != nil {
		f.logger.Warn().Err(err).Msg("failed to store session in primary, fallback holds it")
	}
	return nil
}

func (f *FailoverSessionRepository) DeleteSession(ctx context.Context, token string) error {
	if err := f.fallback.DeleteSession(ctx, token); err != nil {
		return err
	}
	if err := f.primary.DeleteSession(ctx, token); err != nil {
		f.logger.Warn().Err(err).Msg("failed to delete session from primary")
	}
	return nil
}
