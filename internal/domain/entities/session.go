package entities

import "time"

// SessionType controls a session's lifetime and whether it survives a
// kernel restart, per spec.md's session model.
type SessionType string

const (
	SessionTypeProcess   SessionType = "process"
	SessionTypeWorkspace SessionType = "workspace"
	SessionTypeTimed     SessionType = "timed"
	SessionTypePersistent SessionType = "persistent"
)

// GrantScope controls how long a capability grant recorded against a
// session remains valid independent of the session's own lifetime.
type GrantScope string

const (
	GrantScopeOnce     GrantScope = "once"
	GrantScopeSession  GrantScope = "session"
	GrantScopeResource GrantScope = "resource"
	GrantScopeAlways   GrantScope = "always"
)

// Session is a principal's bounded window of capability issuance.
type Session struct {
	ID        string
	Principal Principal
	Type      SessionType
	CreatedAt time.Time
	ExpiresAt *time.Time
	Ended     bool
	EndedAt   *time.Time
}

// IsExpired reports whether a TIMED session has elapsed its TTL. PROCESS
// and WORKSPACE sessions never expire on their own; they end when the
// owning process or workspace tears down and EndSession is called
// explicitly.
func (s Session) IsExpired() bool {
	if s.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*s.ExpiresAt)
}

// Grant records that a session caused a capability to be issued, so that
// ending the session can cascade to revoking it (see session.Service.EndSession).
type Grant struct {
	ID        string
	SessionID string
	Principal Principal
	Token     string
	Operation string
	Resource  string
	Scope     GrantScope
	GrantedAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	RevokedBy string
}

// Revocation is an always-persisted record that a token has been revoked,
// independent of the grant's own scope. It is the durable source of truth
// behind the kernel's "no zombie capabilities" invariant.
type Revocation struct {
	ID         string
	Token      string
	Principal  Principal
	RevokedAt  time.Time
	RevokedBy  string
	GrantID    string
}
