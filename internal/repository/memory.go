package repository

import (
	"context"
	"sync"
	"time"

	"reserva/internal/domain"
	"reserva/internal/models"
)

// MemorySessionRepository is the in-process fallback used when Redis is
// disabled or unreachable. Sessions do not survive a restart; operators
// re-authenticate.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	clock    domain.Clock
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*models.Session),
		clock:    time.Now,
	}
}

var _ domain.SessionRepository = (*MemorySessionRepository)(nil)

func (m *MemorySessionRepository) GetSession(_ context.Context, token string) (*models.Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[token]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(m.clock()) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

func (m *MemorySessionRepository) PutSession(_ context.Context, session *models.Session) error {
	copied := *session
	m.mu.Lock()
	m.sessions[session.Token] = &copied
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionRepository) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}
