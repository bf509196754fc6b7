package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"reserva/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store is the single source of truth for reservations, orders and grants.
// All invariant-affecting mutations run as single transactions; with sqlite a
// single write connection serializes them.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	mu     sync.RWMutex
	spaces map[int64]models.Space
}

func NewStore(path string, logger *zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer at a time; a single connection keeps the
	// conflict-check-then-insert window atomic for concurrent callers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var storeLogger zerolog.Logger
	if logger != nil {
		storeLogger = logger.With().Str("component", "store").Logger()
	}
	storeLogger.Info().Str("path", path).Msg("database initialized")

	return &Store{db: db, logger: storeLogger, spaces: make(map[int64]models.Space)}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            space_id INTEGER NOT NULL,
            customer_name TEXT NOT NULL,
            start_ts INTEGER NOT NULL,
            end_ts INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'Confirmed',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS orders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reservation_id INTEGER NOT NULL UNIQUE,
            total_amount REAL NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'Pending',
            payment_status TEXT NOT NULL DEFAULT 'unpaid',
            order_date DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS grants (
            order_id INTEGER PRIMARY KEY,
            reservation_id INTEGER NOT NULL UNIQUE,
            grant_status TEXT NOT NULL DEFAULT 'Pending',
            actual_start_ts INTEGER,
            scheduled_end_ts INTEGER,
            duration_seconds INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		// Append-only trail of committed transitions.
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            entity_type TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            old_status TEXT NOT NULL,
            new_status TEXT NOT NULL,
            actor_name TEXT NOT NULL,
            actor_role TEXT NOT NULL,
            system_initiated BOOLEAN NOT NULL DEFAULT 0,
            commit_seq INTEGER NOT NULL,
            created_at DATETIME NOT NULL
        )`,
		// Events are written here in the committing transaction and drained
		// by the dispatcher, which gives at-least-once delivery.
		`CREATE TABLE IF NOT EXISTS event_outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            entity_type TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            old_status TEXT NOT NULL,
            new_status TEXT NOT NULL,
            commit_seq INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_space_id ON reservations(space_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_start_ts ON reservations(start_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_grants_status ON grants(grant_status)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON event_outbox(status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SetSpaces устанавливает справочник помещений для проверки бронирований.
func (s *Store) SetSpaces(spaces []models.Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces = make(map[int64]models.Space, len(spaces))
	for _, sp := range spaces {
		s.spaces[sp.ID] = sp
	}
}

// GetSpace returns a space from the reference catalog.
func (s *Store) GetSpace(id int64) (models.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[id]
	if !ok {
		return models.Space{}, fmt.Errorf("space %d: %w", id, ErrNotFound)
	}
	return sp, nil
}

// GetSpaces returns the full catalog.
func (s *Store) GetSpaces() []models.Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Space, 0, len(s.spaces))
	for _, sp := range s.spaces {
		out = append(out, sp)
	}
	return out
}

// StatsSnapshot backs the operator dashboard KPI cards.
type StatsSnapshot struct {
	ActiveSessions    int64 `json:"active_sessions"`
	PendingGrants     int64 `json:"pending_grants"`
	ReservationsToday int64 `json:"reservations_today"`
}

func (s *Store) Stats(ctx context.Context, now time.Time) (StatsSnapshot, error) {
	var snap StatsSnapshot

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grants WHERE grant_status = ?`, models.GrantGranted).Scan(&snap.ActiveSessions)
	if err != nil {
		return snap, fmt.Errorf("failed to count active sessions: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grants WHERE grant_status IN (?, ?)`,
		models.GrantPending, models.GrantConfirmed).Scan(&snap.PendingGrants)
	if err != nil {
		return snap, fmt.Errorf("failed to count pending grants: %w", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE start_ts >= ? AND start_ts < ?`,
		dayStart.Unix(), dayEnd.Unix()).Scan(&snap.ReservationsToday)
	if err != nil {
		return snap, fmt.Errorf("failed to count reservations today: %w", err)
	}

	return snap, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
