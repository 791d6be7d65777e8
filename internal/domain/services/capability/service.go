// Package capability implements C3, the capability broker. Grounded on
// original_source/kernel/capabilities.py's CapabilityBroker: token-keyed
// lookups, per-principal capability lists, and an unconditional audit
// entry on every check (allowed or denied). The revocation set published
// via atomic.Pointer implements spec.md §9 open question #2's
// happens-before guarantee.
package capability

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
	kernelerrors "github.com/capkernel/kernel/pkg/errors"
	"github.com/capkernel/kernel/pkg/metrics"
)

// Auditor is the subset of the audit service (C1) the broker depends on,
// declared narrowly so unit tests can fake it without pulling in the real
// audit package.
type Auditor interface {
	Log(ctx context.Context, principal entities.Principal, provenance entities.Provenance, op, object string, args map[string]any, result string) (*entities.AuditEntry, error)
}

// Service is C3.
type Service struct {
	mu           sync.Mutex
	capabilities map[entities.Principal][]*entities.Capability
	tokens       map[string]*entities.Capability

	revocationRepo repositories.RevocationRepository
	revoked        atomic.Pointer[map[string]struct{}]

	audit  Auditor
	logger *zap.Logger
}

func NewService(revocationRepo repositories.RevocationRepository, audit Auditor, logger *zap.Logger) *Service {
	s := &Service{
		capabilities:   make(map[entities.Principal][]*entities.Capability),
		tokens:         make(map[string]*entities.Capability),
		revocationRepo: revocationRepo,
		audit:          audit,
		logger:         logger,
	}
	empty := map[string]struct{}{}
	s.revoked.Store(&empty)
	return s
}

// constantTimeTokenLookup finds the capability keyed by token without
// relying on Go's native map lookup, whose hash-then-strcmp path can leak
// timing information about how much of a guessed token matched a real one.
// Every candidate key is compared with crypto/subtle.ConstantTimeCompare and
// the loop never exits early on a match, per spec.md §4.3's "tokens must be
// compared by constant-time equality."
func constantTimeTokenLookup(tokens map[string]*entities.Capability, token string) (*entities.Capability, bool) {
	want := []byte(token)
	var found *entities.Capability
	matched := 0
	for candidate, cap := range tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), want) == 1 {
			found = cap
			matched = 1
		}
	}
	return found, matched == 1
}

// constantTimeSetContains is constantTimeTokenLookup's counterpart for the
// revoked-token set, which has no associated value.
func constantTimeSetContains(set map[string]struct{}, token string) bool {
	want := []byte(token)
	matched := 0
	for candidate := range set {
		matched |= subtle.ConstantTimeCompare([]byte(candidate), want)
	}
	return matched == 1
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Grant issues a new capability to principal for operation on resource,
// optionally bounded by a TTL. Mirrors CapabilityBroker.grant.
func (s *Service) Grant(ctx context.Context, principal entities.Principal, operation, resource string, risk entities.CapabilityRisk, ttl *time.Duration) (*entities.Capability, error) {
	token, err := generateToken()
	if err != nil {
		return nil, kernelerrors.Internal("generating capability token", err)
	}

	cap := &entities.Capability{
		Token:     token,
		Principal: principal,
		Operation: operation,
		Resource:  resource,
		Risk:      risk,
		GrantedAt: time.Now(),
	}
	if ttl != nil {
		exp := cap.GrantedAt.Add(*ttl)
		cap.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.capabilities[principal] = append(s.capabilities[principal], cap)
	s.tokens[token] = cap
	s.mu.Unlock()

	metrics.CapabilityGrantsTotal.Inc()

	if s.audit != nil {
		_, _ = s.audit.Log(ctx, principal, entities.ProvenanceSystem, "capability.grant", resource, map[string]any{
			"operation": operation,
			"risk":      string(risk),
		}, "granted")
	}

	return cap, nil
}

// Check reports whether principal may perform operation on resource,
// unconditionally auditing the outcome (allowed or denied) the same way
// CapabilityBroker.check does regardless of raise_on_deny.
func (s *Service) Check(ctx context.Context, principal entities.Principal, operation, resource string) bool {
	allowed := s.evaluate(principal, operation, resource)

	result := "denied"
	if allowed {
		result = "allowed"
	}
	metrics.CapabilityChecksTotal.WithLabelValues(result).Inc()

	if s.audit != nil {
		_, _ = s.audit.Log(ctx, principal, entities.ProvenanceSystem, "capability.check", resource, map[string]any{
			"operation": operation,
		}, result)
	}

	return allowed
}

// Require is Check but returns a typed CapabilityDenied error on failure,
// the convenience wrapper CapabilityBroker.require provides.
func (s *Service) Require(ctx context.Context, principal entities.Principal, operation, resource string) error {
	if !s.Check(ctx, principal, operation, resource) {
		return kernelerrors.CapabilityDenied(string(principal), operation, resource)
	}
	return nil
}

func (s *Service) evaluate(principal entities.Principal, operation, resource string) bool {
	s.mu.Lock()
	caps := append([]*entities.Capability(nil), s.capabilities[principal]...)
	s.mu.Unlock()

	revoked := s.revoked.Load()

	for _, cap := range caps {
		if cap.IsExpired() {
			continue
		}
		if constantTimeSetContains(*revoked, cap.Token) {
			continue
		}
		if cap.Matches(operation, resource) {
			return true
		}
	}
	return false
}

// IsTokenRevoked checks the published revocation set using a constant-time
// comparison against every entry (spec.md §4.3), trading the reference
// implementation's O(1) map lookup for a scan that does not leak timing
// information about a partially-matching token.
func (s *Service) IsTokenRevoked(token string) bool {
	revoked := s.revoked.Load()
	return constantTimeSetContains(*revoked, token)
}

// Revoke invalidates a single token, publishing the updated revocation set
// before returning so any Check that starts after Revoke returns cannot
// observe the stale capability (spec.md §9 open question #2).
func (s *Service) Revoke(ctx context.Context, token string, revokedBy string) error {
	s.mu.Lock()
	cap, ok := constantTimeTokenLookup(s.tokens, token)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.tokens, token)
	list := s.capabilities[cap.Principal]
	filtered := list[:0]
	for _, c := range list {
		if c.Token != token {
			filtered = append(filtered, c)
		}
	}
	s.capabilities[cap.Principal] = filtered

	if err := s.persistRevocation(ctx, token, cap.Principal, revokedBy, ""); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	metrics.CapabilityRevocationsTotal.Inc()
	if s.audit != nil {
		_, _ = s.audit.Log(ctx, cap.Principal, entities.ProvenanceSystem, "capability.revoke", cap.Resource, map[string]any{
			"operation": cap.Operation,
		}, "revoked")
	}
	return nil
}

// RevokeAll invalidates every capability held by principal, persisting one
// Revocation record per token (spec.md §9 open question #4) so each token
// independently appears in IsTokenRevoked.
func (s *Service) RevokeAll(ctx context.Context, principal entities.Principal, revokedBy string) (int, error) {
	s.mu.Lock()
	list := s.capabilities[principal]
	delete(s.capabilities, principal)
	for _, c := range list {
		delete(s.tokens, c.Token)
	}

	for _, c := range list {
		if err := s.persistRevocation(ctx, c.Token, principal, revokedBy, ""); err != nil {
			s.mu.Unlock()
			return 0, err
		}
	}
	s.mu.Unlock()

	metrics.CapabilityRevocationsTotal.Add(float64(len(list)))
	if s.audit != nil {
		_, _ = s.audit.Log(ctx, principal, entities.ProvenanceSystem, "capability.revoke_all", "", map[string]any{
			"count": len(list),
		}, "revoked")
	}
	return len(list), nil
}

// persistRevocation must be called with s.mu held: it writes the
// revocation row and republishes the atomic revoked-token set inside the
// same critical section, so the publish and the persistence are
// indivisible from any concurrent Check's point of view.
func (s *Service) persistRevocation(ctx context.Context, token string, principal entities.Principal, revokedBy, grantID string) error {
	rec := &entities.Revocation{
		ID:        token[:8] + "-rev",
		Token:     token,
		Principal: principal,
		RevokedAt: time.Now(),
		RevokedBy: revokedBy,
		GrantID:   grantID,
	}
	if s.revocationRepo != nil {
		if err := s.revocationRepo.Create(ctx, rec); err != nil {
			return kernelerrors.StorageFailure("persisting revocation", err)
		}
	}

	current := s.revoked.Load()
	next := make(map[string]struct{}, len(*current)+1)
	for t := range *current {
		next[t] = struct{}{}
	}
	next[token] = struct{}{}
	s.revoked.Store(&next)
	return nil
}

// ListCapabilities returns the live, non-expired capabilities a principal
// holds, mirroring CapabilityBroker.list_capabilities.
func (s *Service) ListCapabilities(principal entities.Principal) []*entities.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entities.Capability
	for _, c := range s.capabilities[principal] {
		if !c.IsExpired() {
			out = append(out, c)
		}
	}
	return out
}

// LoadRevocations seeds the in-memory revoked set from durable storage at
// startup, since the reference implementation loads revocations
// unconditionally on boot (original_source/kernel/sessions.py's
// _load_persisted_data).
func (s *Service) LoadRevocations(ctx context.Context) error {
	if s.revocationRepo == nil {
		return nil
	}
	recs, err := s.revocationRepo.ListAll(ctx)
	if err != nil {
		return kernelerrors.StorageFailure("loading revocations", err)
	}
	set := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		set[r.Token] = struct{}{}
	}
	s.revoked.Store(&set)
	return nil
}
