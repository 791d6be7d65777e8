// Package repositories implements the domain repository interfaces
// against Postgres via sqlx, grounded on the teacher's
// internal/infrastructure/repositories/security_stores.go (raw
// parametrized SQL over *sqlx.DB, sql.ErrNoRows handling).
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
)

type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

type auditRow struct {
	ID            string    `db:"id"`
	Timestamp     time.Time `db:"ts"`
	Principal     string    `db:"principal"`
	Provenance    string    `db:"provenance"`
	Operation     string    `db:"op"`
	Object        string    `db:"object"`
	Args          []byte    `db:"args"`
	Result        string    `db:"result"`
	TransactionID sql.NullString `db:"tx_id"`
	CheckpointID  sql.NullString `db:"checkpoint_id"`
	PreviousHash  sql.NullString `db:"previous_hash"`
	CurrentHash   sql.NullString `db:"current_hash"`
}

func (r *AuditRepository) Append(ctx context.Context, entry *entities.AuditEntry) error {
	argsJSON, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("marshaling audit args: %w", err)
	}

	query := `
		INSERT INTO audit_log (id, ts, principal, provenance, op, object, args, result, tx_id, checkpoint_id, previous_hash, current_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, string(entry.Principal), string(entry.Provenance),
		entry.Operation, entry.Object, argsJSON, entry.Result,
		nullable(entry.TransactionID), nullable(entry.CheckpointID),
		nullable(entry.PreviousHash), nullable(entry.CurrentHash))
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *AuditRepository) LastHash(ctx context.Context) (string, error) {
	var hash sql.NullString
	err := r.db.GetContext(ctx, &hash, `SELECT current_hash FROM audit_log ORDER BY ts DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying last hash: %w", err)
	}
	return hash.String, nil
}

func (r *AuditRepository) Query(ctx context.Context, filter repositories.AuditFilter) ([]*entities.AuditEntry, error) {
	query, args := buildAuditQuery("id, ts, principal, provenance, op, object, args, result, tx_id, checkpoint_id, previous_hash, current_hash", filter)

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}

	out := make([]*entities.AuditEntry, 0, len(rows))
	for _, row := range rows {
		var parsedArgs map[string]any
		if len(row.Args) > 0 {
			_ = json.Unmarshal(row.Args, &parsedArgs)
		}
		out = append(out, &entities.AuditEntry{
			ID: row.ID, Timestamp: row.Timestamp, Principal: entities.Principal(row.Principal),
			Provenance: entities.Provenance(row.Provenance), Operation: row.Operation, Object: row.Object,
			Args: parsedArgs, Result: row.Result, TransactionID: row.TransactionID.String,
			CheckpointID: row.CheckpointID.String, PreviousHash: row.PreviousHash.String, CurrentHash: row.CurrentHash.String,
		})
	}
	return out, nil
}

func (r *AuditRepository) Count(ctx context.Context, filter repositories.AuditFilter) (int64, error) {
	query, args := buildAuditQuery("COUNT(*)", repositories.AuditFilter{Operation: filter.Operation, Principal: filter.Principal, Since: filter.Since, Until: filter.Until})
	var count int64
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("counting audit log: %w", err)
	}
	return count, nil
}

func (r *AuditRepository) TransactionLog(ctx context.Context, txID string) ([]*entities.AuditEntry, error) {
	var rows []auditRow
	query := `SELECT id, ts, principal, provenance, op, object, args, result, tx_id, checkpoint_id, previous_hash, current_hash
		FROM audit_log WHERE tx_id = $1 ORDER BY ts ASC`
	if err := r.db.SelectContext(ctx, &rows, query, txID); err != nil {
		return nil, fmt.Errorf("querying transaction log: %w", err)
	}

	out := make([]*entities.AuditEntry, 0, len(rows))
	for _, row := range rows {
		var parsedArgs map[string]any
		if len(row.Args) > 0 {
			_ = json.Unmarshal(row.Args, &parsedArgs)
		}
		out = append(out, &entities.AuditEntry{
			ID: row.ID, Timestamp: row.Timestamp, Principal: entities.Principal(row.Principal),
			Provenance: entities.Provenance(row.Provenance), Operation: row.Operation, Object: row.Object,
			Args: parsedArgs, Result: row.Result, TransactionID: row.TransactionID.String,
			CheckpointID: row.CheckpointID.String, PreviousHash: row.PreviousHash.String, CurrentHash: row.CurrentHash.String,
		})
	}
	return out, nil
}

// buildAuditQuery builds a parametrized WHERE clause, supporting a
// trailing "*" on Operation as a prefix match (LIKE 'prefix%'), the SQL
// translation of original_source/kernel/audit.py's query() builder.
func buildAuditQuery(selectCols string, filter repositories.AuditFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Operation != "" {
		if strings.HasSuffix(filter.Operation, "*") {
			conditions = append(conditions, "op LIKE ?")
			args = append(args, strings.TrimSuffix(filter.Operation, "*")+"%")
		} else {
			conditions = append(conditions, "op = ?")
			args = append(args, filter.Operation)
		}
	}
	if filter.Principal != "" {
		conditions = append(conditions, "principal = ?")
		args = append(args, string(filter.Principal))
	}
	if filter.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, *filter.Until)
	}

	query := "SELECT " + selectCols + " FROM audit_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if selectCols != "COUNT(*)" {
		query += " ORDER BY ts ASC"
		if filter.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		}
	}
	return query, args
}
