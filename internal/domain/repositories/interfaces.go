// Package repositories declares the persistence boundary between the
// domain services (C1-C5) and the concrete Postgres/Redis implementations
// in internal/infrastructure/repositories. Kept as narrow, storage-agnostic
// interfaces so unit tests can satisfy them with in-memory fakes, the
// same pattern the teacher's pkg/auth.SessionStore interface follows.
package repositories

import (
	"context"
	"time"

	"github.com/capkernel/kernel/internal/domain/entities"
)

// AuditRepository persists append-only audit entries and supports the
// query/count/export operations spec.md §4.1 requires.
type AuditRepository interface {
	Append(ctx context.Context, entry *entities.AuditEntry) error
	LastHash(ctx context.Context) (string, error)
	Query(ctx context.Context, filter AuditFilter) ([]*entities.AuditEntry, error)
	Count(ctx context.Context, filter AuditFilter) (int64, error)
	TransactionLog(ctx context.Context, txID string) ([]*entities.AuditEntry, error)
}

// AuditFilter mirrors the WHERE-clause builder in the reference
// AuditLog.query: an operation prefix (trailing "*" meaning LIKE-style
// prefix match), a time window, and a result cap.
type AuditFilter struct {
	Operation string
	Principal entities.Principal
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// SessionRepository persists Session rows. Only PERSISTENT sessions are
// written through in practice (SessionManager enforces that), matching
// the reference _persist_session gate.
type SessionRepository interface {
	Create(ctx context.Context, s *entities.Session) error
	Get(ctx context.Context, id string) (*entities.Session, error)
	End(ctx context.Context, id string, endedAt time.Time) error
	ListByPrincipal(ctx context.Context, p entities.Principal) ([]*entities.Session, error)
}

// GrantRepository persists Grant rows. Only ALWAYS-scoped grants are
// written through, matching the reference _persist_grant gate.
type GrantRepository interface {
	Create(ctx context.Context, g *entities.Grant) error
	GetByToken(ctx context.Context, token string) (*entities.Grant, error)
	ListBySession(ctx context.Context, sessionID string) ([]*entities.Grant, error)
	ListByPrincipal(ctx context.Context, p entities.Principal) ([]*entities.Grant, error)
	MarkRevoked(ctx context.Context, token string, revokedAt time.Time, revokedBy string) error
}

// RevocationRepository persists Revocation rows. Every revocation is
// written through unconditionally (spec.md §9 open question #2 and #4),
// never gated by grant scope.
type RevocationRepository interface {
	Create(ctx context.Context, r *entities.Revocation) error
	ListAll(ctx context.Context) ([]*entities.Revocation, error)
	ListByPrincipal(ctx context.Context, p entities.Principal) ([]*entities.Revocation, error)
}
