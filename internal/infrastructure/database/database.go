// Package database wires the Postgres connection and schema migrations
// for the kernel's audit/session/grant/revocation tables, grounded on the
// teacher's internal/infrastructure/database package (referenced from
// internal/app/application.go as database.NewConnection / database.RunMigrations
// but not retained in the example pack, so only its call signature is known
// and is reproduced here).
package database

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/capkernel/kernel/internal/infrastructure/config"
)

// NewConnection opens a sqlx.DB against Postgres and applies the pool
// settings from config.DatabaseConfig.
func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return db, nil
}

// RunMigrations applies the schema in migrations/ against the given
// database URL. A missing-migrations-directory or already-up-to-date
// result is not an error.
func RunMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("initializing migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("closing migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration db: %w", dbErr)
	}

	return nil
}

// Schema is the kernel's table layout, per spec.md §6, applied as
// migrations/0001_init.up.sql. Kept here as a documented constant so the
// SQL text ships with the binary even before migrations/ is populated on
// disk by an operator.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id              UUID PRIMARY KEY,
	ts              TIMESTAMPTZ NOT NULL,
	principal       TEXT NOT NULL,
	provenance      TEXT NOT NULL,
	op              TEXT NOT NULL,
	object          TEXT NOT NULL,
	args            JSONB NOT NULL,
	result          TEXT NOT NULL,
	tx_id           TEXT,
	checkpoint_id   TEXT,
	previous_hash   TEXT,
	current_hash    TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log (ts);
CREATE INDEX IF NOT EXISTS idx_audit_log_principal ON audit_log (principal);
CREATE INDEX IF NOT EXISTS idx_audit_log_op ON audit_log (op);
CREATE INDEX IF NOT EXISTS idx_audit_log_tx_id ON audit_log (tx_id);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	principal   TEXT NOT NULL,
	type        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ,
	ended       BOOLEAN NOT NULL DEFAULT FALSE,
	ended_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_principal ON sessions (principal);

CREATE TABLE IF NOT EXISTS grants (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	principal   TEXT NOT NULL,
	token       TEXT NOT NULL,
	operation   TEXT NOT NULL,
	resource    TEXT NOT NULL,
	scope       TEXT NOT NULL,
	granted_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at  TIMESTAMPTZ,
	revoked_by  TEXT
);
CREATE INDEX IF NOT EXISTS idx_grants_token ON grants (token);
CREATE INDEX IF NOT EXISTS idx_grants_session ON grants (session_id);

CREATE TABLE IF NOT EXISTS revocations (
	id          TEXT PRIMARY KEY,
	token       TEXT NOT NULL,
	principal   TEXT NOT NULL,
	revoked_at  TIMESTAMPTZ NOT NULL,
	revoked_by  TEXT NOT NULL,
	grant_id    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revocations_token ON revocations (token);
CREATE INDEX IF NOT EXISTS idx_revocations_principal ON revocations (principal);
`
