package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/capkernel/kernel/internal/domain/entities"
)

// SessionRepository persists entities.Session rows, adapted from the
// teacher's device_session_repository.go's raw parametrized-SQL style.
// Only PERSISTENT sessions are ever written here; the session service
// enforces that gate before calling Create.
type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type sessionRow struct {
	ID        string       `db:"id"`
	Principal string       `db:"principal"`
	Type      string       `db:"type"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt sql.NullTime `db:"expires_at"`
	Ended     bool         `db:"ended"`
	EndedAt   sql.NullTime `db:"ended_at"`
}

func (r *SessionRepository) Create(ctx context.Context, s *entities.Session) error {
	query := `INSERT INTO sessions (id, principal, type, created_at, expires_at, ended, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, s.ID, string(s.Principal), string(s.Type), s.CreatedAt, s.ExpiresAt, s.Ended, s.EndedAt)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*entities.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT id, principal, type, created_at, expires_at, ended, ended_at FROM sessions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return rowToSession(row), nil
}

func (r *SessionRepository) End(ctx context.Context, id string, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET ended = true, ended_at = $1 WHERE id = $2`, endedAt, id)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListByPrincipal(ctx context.Context, p entities.Principal) ([]*entities.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, principal, type, created_at, expires_at, ended, ended_at FROM sessions WHERE principal = $1`, string(p))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]*entities.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToSession(row))
	}
	return out, nil
}

func rowToSession(row sessionRow) *entities.Session {
	s := &entities.Session{
		ID: row.ID, Principal: entities.Principal(row.Principal), Type: entities.SessionType(row.Type),
		CreatedAt: row.CreatedAt, Ended: row.Ended,
	}
	if row.ExpiresAt.Valid {
		s.ExpiresAt = &row.ExpiresAt.Time
	}
	if row.EndedAt.Valid {
		s.EndedAt = &row.EndedAt.Time
	}
	return s
}
