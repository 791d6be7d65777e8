package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*entities.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*entities.Session{}}
}

func (f *fakeSessionRepo) Create(_ context.Context, s *entities.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionRepo) Get(_ context.Context, id string) (*entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}

func (f *fakeSessionRepo) End(_ context.Context, id string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return assert.AnError
	}
	s.Ended = true
	s.EndedAt = &endedAt
	return nil
}

func (f *fakeSessionRepo) ListByPrincipal(_ context.Context, p entities.Principal) ([]*entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Session
	for _, s := range f.sessions {
		if s.Principal == p {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeGrantRepo struct {
	mu     sync.Mutex
	grants map[string]*entities.Grant
}

func newFakeGrantRepo() *fakeGrantRepo { return &fakeGrantRepo{grants: map[string]*entities.Grant{}} }

func (f *fakeGrantRepo) Create(_ context.Context, g *entities.Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[g.Token] = g
	return nil
}

func (f *fakeGrantRepo) GetByToken(_ context.Context, token string) (*entities.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[token]
	if !ok {
		return nil, nil
	}
	return g, nil
}

func (f *fakeGrantRepo) ListBySession(_ context.Context, sessionID string) ([]*entities.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Grant
	for _, g := range f.grants {
		if g.SessionID == sessionID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrantRepo) ListByPrincipal(_ context.Context, p entities.Principal) ([]*entities.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Grant
	for _, g := range f.grants {
		if g.Principal == p {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGrantRepo) MarkRevoked(_ context.Context, token string, revokedAt time.Time, revokedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[token]
	if !ok {
		return nil
	}
	g.Revoked = true
	g.RevokedAt = &revokedAt
	g.RevokedBy = revokedBy
	return nil
}

type fakeRevocationRepoSession struct {
	mu   sync.Mutex
	recs []*entities.Revocation
}

func (f *fakeRevocationRepoSession) Create(_ context.Context, r *entities.Revocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, r)
	return nil
}

func (f *fakeRevocationRepoSession) ListAll(_ context.Context) ([]*entities.Revocation, error) {
	return f.recs, nil
}

func (f *fakeRevocationRepoSession) ListByPrincipal(_ context.Context, p entities.Principal) ([]*entities.Revocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.Revocation
	for _, r := range f.recs {
		if r.Principal == p {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeCapabilityRevoker struct {
	mu      sync.Mutex
	revoked []string
}

func (f *fakeCapabilityRevoker) Revoke(_ context.Context, token, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return nil
}

func newTestSessionService() (*Service, *fakeSessionRepo, *fakeGrantRepo, *fakeCapabilityRevoker) {
	sessions := newFakeSessionRepo()
	grants := newFakeGrantRepo()
	revocations := &fakeRevocationRepoSession{}
	caps := &fakeCapabilityRevoker{}
	svc := NewService(sessions, grants, revocations, nil, caps, zap.NewNop())
	return svc, sessions, grants, caps
}

func TestCreateSession_PersistentSessionIsWrittenThrough(t *testing.T) {
	svc, sessions, _, _ := newTestSessionService()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "alice", entities.SessionTypePersistent, nil)
	require.NoError(t, err)

	stored, err := sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.ID)
}

func TestCreateSession_ProcessSessionIsNotWrittenThrough(t *testing.T) {
	svc, sessions, _, _ := newTestSessionService()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "alice", entities.SessionTypeProcess, nil)
	require.NoError(t, err)

	_, err = sessions.Get(ctx, sess.ID)
	assert.Error(t, err, "process sessions must not be persisted to the durable store")
}

func TestEndSession_CascadesRevocationToGrants(t *testing.T) {
	svc, sessions, grants, caps := newTestSessionService()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "alice", entities.SessionTypePersistent, nil)
	require.NoError(t, err)

	require.NoError(t, svc.RecordGrant(ctx, sess.ID, "alice", "tok-1", "tab.navigate", "tab:*", entities.GrantScopeAlways))
	require.NoError(t, svc.RecordGrant(ctx, sess.ID, "alice", "tok-2", "form.fill", "form:*", entities.GrantScopeAlways))

	require.NoError(t, svc.EndSession(ctx, sess.ID))

	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, caps.revoked)
	stored, err := sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.Ended)
	_ = grants
}

func TestRecordGrant_OnlyAlwaysScopeIsPersisted(t *testing.T) {
	svc, _, grants, _ := newTestSessionService()
	ctx := context.Background()

	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-once", "tab.navigate", "tab:*", entities.GrantScopeOnce))
	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-always", "tab.navigate", "tab:*", entities.GrantScopeAlways))

	persisted, err := grants.GetByToken(ctx, "tok-always")
	require.NoError(t, err)
	assert.NotNil(t, persisted)

	persisted, err = grants.GetByToken(ctx, "tok-once")
	require.NoError(t, err)
	assert.Nil(t, persisted, "once-scoped grants must not be durably persisted")
}

func TestIsTokenRevoked_TrueOnlyAfterRevocationRecorded(t *testing.T) {
	svc, _, _, _ := newTestSessionService()
	ctx := context.Background()

	revoked, err := svc.IsTokenRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-1", "tab.navigate", "tab:*", entities.GrantScopeAlways))
	require.NoError(t, svc.RevokeGrant(ctx, "tok-1", "admin"))

	revoked, err = svc.IsTokenRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestGetGrantByToken_ReturnsPersistedAlwaysScopedGrant(t *testing.T) {
	svc, _, _, _ := newTestSessionService()
	ctx := context.Background()

	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-always", "tab.navigate", "tab:*", entities.GrantScopeAlways))

	g, err := svc.GetGrantByToken(ctx, "tok-always")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "alice", string(g.Principal))
}

func TestRevokeAllForPrincipal_RevokesOnlyThatPrincipalsActiveGrants(t *testing.T) {
	svc, _, _, caps := newTestSessionService()
	ctx := context.Background()

	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-a1", "tab.navigate", "tab:*", entities.GrantScopeAlways))
	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-a2", "form.fill", "form:*", entities.GrantScopeAlways))
	require.NoError(t, svc.RecordGrant(ctx, "sess-2", "bob", "tok-b1", "tab.navigate", "tab:*", entities.GrantScopeAlways))

	count, err := svc.RevokeAllForPrincipal(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"tok-a1", "tok-a2"}, caps.revoked)

	revokedAgain, err := svc.RevokeAllForPrincipal(ctx, "alice", "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, revokedAgain, "already-revoked grants must not be revoked twice")
}

func TestRevokeGrant_AlwaysPersistsRevocationRegardlessOfScope(t *testing.T) {
	svc, _, grants, _ := newTestSessionService()
	ctx := context.Background()

	// tok-once is ONCE-scoped, so RecordGrant never wrote a grant row for
	// it; RevokeGrant must still persist the revocation itself.
	require.NoError(t, svc.RecordGrant(ctx, "sess-1", "alice", "tok-once", "tab.navigate", "tab:*", entities.GrantScopeOnce))
	require.NoError(t, svc.RevokeGrant(ctx, "tok-once", "admin"))

	revocations, err := svc.ListRevocations(ctx, "")
	require.NoError(t, err)
	require.Len(t, revocations, 1, "the revocation record must be persisted even though the grant row never existed")
	assert.Equal(t, "tok-once", revocations[0].Token)
	_ = grants
}
