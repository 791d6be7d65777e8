package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/capkernel/kernel/internal/domain/entities"
)

// RevocationRepository persists entities.Revocation rows. Every
// revocation is written through unconditionally, never gated by a
// grant's scope (spec.md §9 open question #2/#4).
type RevocationRepository struct {
	db *sqlx.DB
}

func NewRevocationRepository(db *sqlx.DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

type revocationRow struct {
	ID        string    `db:"id"`
	Token     string    `db:"token"`
	Principal string    `db:"principal"`
	RevokedAt time.Time `db:"revoked_at"`
	RevokedBy string    `db:"revoked_by"`
	GrantID   string    `db:"grant_id"`
}

func (r *RevocationRepository) Create(ctx context.Context, rec *entities.Revocation) error {
	query := `INSERT INTO revocations (id, token, principal, revoked_at, revoked_by, grant_id) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.Token, string(rec.Principal), rec.RevokedAt, rec.RevokedBy, rec.GrantID)
	if err != nil {
		return fmt.Errorf("creating revocation: %w", err)
	}
	return nil
}

func (r *RevocationRepository) ListAll(ctx context.Context) ([]*entities.Revocation, error) {
	var rows []revocationRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, token, principal, revoked_at, revoked_by, grant_id FROM revocations`)
	if err != nil {
		return nil, fmt.Errorf("listing revocations: %w", err)
	}
	return rowsToRevocations(rows), nil
}

func (r *RevocationRepository) ListByPrincipal(ctx context.Context, p entities.Principal) ([]*entities.Revocation, error) {
	var rows []revocationRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, token, principal, revoked_at, revoked_by, grant_id FROM revocations WHERE principal = $1`, string(p))
	if err != nil {
		return nil, fmt.Errorf("listing revocations by principal: %w", err)
	}
	return rowsToRevocations(rows), nil
}

func rowsToRevocations(rows []revocationRow) []*entities.Revocation {
	out := make([]*entities.Revocation, 0, len(rows))
	for _, row := range rows {
		out = append(out, &entities.Revocation{
			ID: row.ID, Token: row.Token, Principal: entities.Principal(row.Principal),
			RevokedAt: row.RevokedAt, RevokedBy: row.RevokedBy, GrantID: row.GrantID,
		})
	}
	return out
}
