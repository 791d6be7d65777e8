// Package session implements C4, the session manager. Grounded on the
// teacher's session.Service cache-aside pattern (Redis-backed hot lookup,
// Postgres system of record) and on original_source/kernel/sessions.py's
// SessionManager (only PERSISTENT sessions and ALWAYS-scoped grants are
// written through to durable storage; revocations are always written
// through, spec.md §9 open question #2/#4).
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
)

const sessionCacheTTL = 30 * time.Second
const sessionCachePrefix = "kernel:session:"

// RedisClient is the subset of *redis.Client used for cache-aside session
// lookups.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CapabilityRevoker is the subset of the capability broker (C3) the
// session manager needs in order to cascade EndSession into revoking
// every grant issued under that session.
type CapabilityRevoker interface {
	Revoke(ctx context.Context, token, revokedBy string) error
}

// Service is C4.
type Service struct {
	sessions   repositories.SessionRepository
	grants     repositories.GrantRepository
	revocations repositories.RevocationRepository
	redis      RedisClient
	caps       CapabilityRevoker
	logger     *zap.Logger
}

func NewService(sessions repositories.SessionRepository, grants repositories.GrantRepository, revocations repositories.RevocationRepository, redis RedisClient, caps CapabilityRevoker, logger *zap.Logger) *Service {
	return &Service{sessions: sessions, grants: grants, revocations: revocations, redis: redis, caps: caps, logger: logger}
}

func randomID(prefix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return prefix + ":" + hex.EncodeToString(buf)
}

// CreateSession starts a new session for principal. Only PERSISTENT
// sessions are written through to Postgres, mirroring
// SessionManager._persist_session's gate.
func (s *Service) CreateSession(ctx context.Context, principal entities.Principal, typ entities.SessionType, ttl *time.Duration) (*entities.Session, error) {
	sess := &entities.Session{
		ID:        randomID("sess"),
		Principal: principal,
		Type:      typ,
		CreatedAt: time.Now(),
	}
	if typ == entities.SessionTypeTimed && ttl != nil {
		exp := sess.CreatedAt.Add(*ttl)
		sess.ExpiresAt = &exp
	}

	if typ == entities.SessionTypePersistent {
		if err := s.sessions.Create(ctx, sess); err != nil {
			return nil, kernelerrors.StorageFailure("persisting session", err)
		}
	}

	s.cacheSession(ctx, sess)
	s.logger.Info("session created", zap.String("id", sess.ID), zap.String("principal", string(principal)), zap.String("type", string(typ)))
	return sess, nil
}

// EndSession ends a session, cascading to revoke every capability grant
// recorded against it (revoked_by="session_end"), mirroring
// SessionManager.end_session exactly.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	grants, err := s.grants.ListBySession(ctx, sessionID)
	if err != nil {
		return kernelerrors.StorageFailure("listing session grants", err)
	}
	for _, g := range grants {
		if g.Revoked {
			continue
		}
		if s.caps != nil {
			if err := s.caps.Revoke(ctx, g.Token, "session_end"); err != nil {
				s.logger.Warn("failed to revoke grant on session end", zap.Error(err), zap.String("token", g.Token))
			}
		}
	}

	now := time.Now()
	if err := s.sessions.End(ctx, sessionID, now); err != nil {
		return kernelerrors.StorageFailure("ending session", err)
	}
	s.invalidateSessionCache(ctx, sessionID)
	return nil
}

// RecordGrant records that sessionID caused token to be issued. Only
// ALWAYS-scoped grants are persisted, mirroring _persist_grant's gate.
func (s *Service) RecordGrant(ctx context.Context, sessionID string, principal entities.Principal, token, operation, resource string, scope entities.GrantScope) error {
	g := &entities.Grant{
		ID:        randomID("grant"),
		SessionID: sessionID,
		Principal: principal,
		Token:     token,
		Operation: operation,
		Resource:  resource,
		Scope:     scope,
		GrantedAt: time.Now(),
	}
	if scope == entities.GrantScopeAlways {
		if err := s.grants.Create(ctx, g); err != nil {
			return kernelerrors.StorageFailure("persisting grant", err)
		}
	}
	return nil
}

// RevokeGrant revokes a single grant by token. The revocation record is
// always persisted unconditionally, independent of the grant's own scope
// (spec.md §9 open question #2's durability requirement); the grant row
// itself is only updated if it was ALWAYS-scoped and therefore exists.
func (s *Service) RevokeGrant(ctx context.Context, token, revokedBy string) error {
	now := time.Now()
	rec := &entities.Revocation{
		ID:        randomID("revk"),
		Token:     token,
		RevokedAt: now,
		RevokedBy: revokedBy,
	}
	if g, err := s.grants.GetByToken(ctx, token); err == nil && g != nil {
		rec.Principal = g.Principal
		rec.GrantID = g.ID
		if g.Scope == entities.GrantScopeAlways {
			if err := s.grants.MarkRevoked(ctx, token, now, revokedBy); err != nil {
				s.logger.Warn("failed to mark grant revoked", zap.Error(err))
			}
		}
	}
	if err := s.revocations.Create(ctx, rec); err != nil {
		return kernelerrors.StorageFailure("persisting revocation", err)
	}
	return nil
}

// Get retrieves a session, checking cache first.
func (s *Service) Get(ctx context.Context, id string) (*entities.Session, error) {
	if sess := s.getSessionFromCache(ctx, id); sess != nil {
		return sess, nil
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session %s not found: %w", id, err)
	}
	s.cacheSession(ctx, sess)
	return sess, nil
}

func (s *Service) cacheSession(ctx context.Context, sess *entities.Session) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, sessionCachePrefix+sess.ID, data, sessionCacheTTL).Err(); err != nil {
		s.logger.Warn("failed to cache session", zap.Error(err))
	}
}

func (s *Service) getSessionFromCache(ctx context.Context, id string) *entities.Session {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, sessionCachePrefix+id).Bytes()
	if err != nil {
		return nil
	}
	var sess entities.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil
	}
	if sess.IsExpired() || sess.Ended {
		s.invalidateSessionCache(ctx, id)
		return nil
	}
	return &sess
}

func (s *Service) invalidateSessionCache(ctx context.Context, id string) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, sessionCachePrefix+id)
}

// IsTokenRevoked reports whether a capability token has ever been revoked,
// the check that prevents a revoked grant from resurrecting after restart.
// Mirrors SessionManager.is_token_revoked; distinct from
// capability.Service.IsTokenRevoked, which answers the same question
// against C3's own in-memory revocation set rather than C4's durable log.
func (s *Service) IsTokenRevoked(ctx context.Context, token string) (bool, error) {
	revocations, err := s.revocations.ListAll(ctx)
	if err != nil {
		return false, kernelerrors.StorageFailure("listing revocations", err)
	}
	for _, r := range revocations {
		if r.Token == token {
			return true, nil
		}
	}
	return false, nil
}

// GetGrantByToken looks up the grant record backing a capability token,
// mirroring SessionManager.get_grant_by_token. Only ALWAYS-scoped grants
// were ever persisted, so this returns nil for once/session/resource-scoped
// tokens even if they are still active.
func (s *Service) GetGrantByToken(ctx context.Context, token string) (*entities.Grant, error) {
	g, err := s.grants.GetByToken(ctx, token)
	if err != nil {
		return nil, kernelerrors.StorageFailure("getting grant by token", err)
	}
	return g, nil
}

// RevokeAllForPrincipal revokes every active grant recorded for a
// principal, cascading through the capability broker exactly like
// EndSession does for a single session, and returns the number of grants
// revoked. Mirrors SessionManager.revoke_all_for_principal.
func (s *Service) RevokeAllForPrincipal(ctx context.Context, principal entities.Principal, revokedBy string) (int, error) {
	grants, err := s.grants.ListByPrincipal(ctx, principal)
	if err != nil {
		return 0, kernelerrors.StorageFailure("listing grants by principal", err)
	}

	count := 0
	for _, g := range grants {
		if g.Revoked {
			continue
		}
		if s.caps != nil {
			if err := s.caps.Revoke(ctx, g.Token, revokedBy); err != nil {
				s.logger.Warn("failed to revoke grant for principal", zap.Error(err), zap.String("token", g.Token))
			}
		}
		if err := s.RevokeGrant(ctx, g.Token, revokedBy); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ListGrants returns every grant recorded for a session.
func (s *Service) ListGrants(ctx context.Context, sessionID string) ([]*entities.Grant, error) {
	return s.grants.ListBySession(ctx, sessionID)
}

// ListRevocations returns every revocation for a principal, used by the
// compliance sweep worker to verify nothing was missed.
func (s *Service) ListRevocations(ctx context.Context, principal entities.Principal) ([]*entities.Revocation, error) {
	return s.revocations.ListByPrincipal(ctx, principal)
}
