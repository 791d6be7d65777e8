// Package auth issues and validates the session-reference JWT handed back
// to a caller that creates a PERSISTENT session (C4), adapted from the
// teacher's device-bound JWT service: the same claim-binding pattern,
// applied to entities.Session instead of a user login. The teacher's
// concurrent-session limit is not carried over, and no kernel component
// outside this package's tests constructs a SessionJWTService, so
// session creation hands out no token.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
)

const (
	// SessionTokenTTL bounds how long a session-reference JWT is valid;
	// the underlying Session's own ExpiresAt is the authoritative bound,
	// this is a cheap rejection before a lookup is even attempted.
	SessionTokenTTL = 24 * time.Hour
)

// SessionClaims binds a JWT to one entities.Session, the session-reference
// token returned to a caller instead of a raw session ID, so possession of
// the token alone doesn't let a party enumerate other sessions.
type SessionClaims struct {
	SessionID   string              `json:"session_id"`
	Principal   entities.Principal  `json:"principal"`
	SessionType entities.SessionType `json:"session_type"`
	BindingHash string              `json:"binding_hash"`
	jwt.RegisteredClaims
}

// SessionLookup is the subset of session.Service the JWT service needs to
// confirm a referenced session is still live before trusting its claims.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*entities.Session, error)
}

// SessionJWTService issues and validates session-reference tokens.
type SessionJWTService struct {
	secret   []byte
	sessions SessionLookup
	logger   *zap.Logger
}

func NewSessionJWTService(secret []byte, sessions SessionLookup, logger *zap.Logger) *SessionJWTService {
	return &SessionJWTService{secret: secret, sessions: sessions, logger: logger}
}

// GenerateBindingHash ties a token to the session it was minted for. The
// result is a plain "<session>:<principal>:kernel-session-bind" string, not
// a keyed hash: anyone can compute it, so it only rejects claims whose
// session ID and principal were altered inconsistently and adds no
// protection beyond the token signature.
func GenerateBindingHash(sessionID string, principal entities.Principal) string {
	return fmt.Sprintf("%s:%s:kernel-session-bind", sessionID, principal)
}

// IssueSessionToken mints a session-reference JWT for a freshly created
// PERSISTENT session.
func (s *SessionJWTService) IssueSessionToken(session *entities.Session) (string, error) {
	now := time.Now()
	expiresAt := now.Add(SessionTokenTTL)
	if session.ExpiresAt != nil && session.ExpiresAt.Before(expiresAt) {
		expiresAt = *session.ExpiresAt
	}

	claims := SessionClaims{
		SessionID:   session.ID,
		Principal:   session.Principal,
		SessionType: session.Type,
		BindingHash: GenerateBindingHash(session.ID, session.Principal),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "capkernel",
			Subject:   string(session.Principal),
			ID:        session.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// ValidateSessionToken parses and verifies a session-reference JWT, then
// confirms the referenced session is still live and not ended.
func (s *SessionJWTService) ValidateSessionToken(ctx context.Context, tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	if claims.BindingHash != GenerateBindingHash(claims.SessionID, claims.Principal) {
		return nil, fmt.Errorf("session binding mismatch")
	}

	session, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if session.Ended {
		return nil, fmt.Errorf("session ended")
	}
	if session.IsExpired() {
		return nil, fmt.Errorf("session expired")
	}

	return claims, nil
}
