package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/capkernel/kernel/internal/domain/entities"
)

// GrantRepository persists entities.Grant rows. Only ALWAYS-scoped grants
// are ever written here; the session service enforces that gate.
type GrantRepository struct {
	db *sqlx.DB
}

func NewGrantRepository(db *sqlx.DB) *GrantRepository {
	return &GrantRepository{db: db}
}

type grantRow struct {
	ID        string         `db:"id"`
	SessionID string         `db:"session_id"`
	Principal string         `db:"principal"`
	Token     string         `db:"token"`
	Operation string         `db:"operation"`
	Resource  string         `db:"resource"`
	Scope     string         `db:"scope"`
	GrantedAt time.Time      `db:"granted_at"`
	Revoked   bool           `db:"revoked"`
	RevokedAt sql.NullTime   `db:"revoked_at"`
	RevokedBy sql.NullString `db:"revoked_by"`
}

func (r *GrantRepository) Create(ctx context.Context, g *entities.Grant) error {
	query := `INSERT INTO grants (id, session_id, principal, token, operation, resource, scope, granted_at, revoked, revoked_at, revoked_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query, g.ID, g.SessionID, string(g.Principal), g.Token, g.Operation, g.Resource, string(g.Scope), g.GrantedAt, g.Revoked, g.RevokedAt, g.RevokedBy)
	if err != nil {
		return fmt.Errorf("creating grant: %w", err)
	}
	return nil
}

func (r *GrantRepository) GetByToken(ctx context.Context, token string) (*entities.Grant, error) {
	var row grantRow
	err := r.db.GetContext(ctx, &row, `SELECT id, session_id, principal, token, operation, resource, scope, granted_at, revoked, revoked_at, revoked_by FROM grants WHERE token = $1`, token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting grant: %w", err)
	}
	return rowToGrant(row), nil
}

func (r *GrantRepository) ListBySession(ctx context.Context, sessionID string) ([]*entities.Grant, error) {
	var rows []grantRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, session_id, principal, token, operation, resource, scope, granted_at, revoked, revoked_at, revoked_by FROM grants WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	out := make([]*entities.Grant, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToGrant(row))
	}
	return out, nil
}

func (r *GrantRepository) ListByPrincipal(ctx context.Context, p entities.Principal) ([]*entities.Grant, error) {
	var rows []grantRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, session_id, principal, token, operation, resource, scope, granted_at, revoked, revoked_at, revoked_by FROM grants WHERE principal = $1`, string(p))
	if err != nil {
		return nil, fmt.Errorf("listing grants by principal: %w", err)
	}
	out := make([]*entities.Grant, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToGrant(row))
	}
	return out, nil
}

func (r *GrantRepository) MarkRevoked(ctx context.Context, token string, revokedAt time.Time, revokedBy string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE grants SET revoked = true, revoked_at = $1, revoked_by = $2 WHERE token = $3`, revokedAt, revokedBy, token)
	if err != nil {
		return fmt.Errorf("marking grant revoked: %w", err)
	}
	return nil
}

func rowToGrant(row grantRow) *entities.Grant {
	g := &entities.Grant{
		ID: row.ID, SessionID: row.SessionID, Principal: entities.Principal(row.Principal), Token: row.Token,
		Operation: row.Operation, Resource: row.Resource, Scope: entities.GrantScope(row.Scope),
		GrantedAt: row.GrantedAt, Revoked: row.Revoked, RevokedBy: row.RevokedBy.String,
	}
	if row.RevokedAt.Valid {
		g.RevokedAt = &row.RevokedAt.Time
	}
	return g
}
