package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
)

type fakeSessionLookup struct {
	sessions map[string]*entities.Session
}

func (f *fakeSessionLookup) Get(_ context.Context, id string) (*entities.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}

func newTestSessionJWTService(sess *entities.Session) *SessionJWTService {
	lookup := &fakeSessionLookup{sessions: map[string]*entities.Session{sess.ID: sess}}
	return NewSessionJWTService([]byte("test-signing-secret"), lookup, zap.NewNop())
}

func TestIssueThenValidateSessionToken_RoundTrips(t *testing.T) {
	sess := &entities.Session{ID: "sess:1", Principal: "alice", Type: entities.SessionTypePersistent, CreatedAt: time.Now()}
	svc := newTestSessionJWTService(sess)

	token, err := svc.IssueSessionToken(sess)
	require.NoError(t, err)

	claims, err := svc.ValidateSessionToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, claims.SessionID)
	assert.Equal(t, sess.Principal, claims.Principal)
}

func TestValidateSessionToken_RejectsTamperedSignature(t *testing.T) {
	sess := &entities.Session{ID: "sess:1", Principal: "alice", Type: entities.SessionTypePersistent, CreatedAt: time.Now()}
	svc := newTestSessionJWTService(sess)

	token, err := svc.IssueSessionToken(sess)
	require.NoError(t, err)

	otherSvc := NewSessionJWTService([]byte("different-secret"), &fakeSessionLookup{sessions: map[string]*entities.Session{sess.ID: sess}}, zap.NewNop())
	_, err = otherSvc.ValidateSessionToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateSessionToken_RejectsEndedSession(t *testing.T) {
	sess := &entities.Session{ID: "sess:1", Principal: "alice", Type: entities.SessionTypePersistent, CreatedAt: time.Now(), Ended: true}
	svc := newTestSessionJWTService(sess)

	token, err := svc.IssueSessionToken(sess)
	require.NoError(t, err)

	_, err = svc.ValidateSessionToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateSessionToken_RejectsExpiredSession(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	sess := &entities.Session{ID: "sess:1", Principal: "alice", Type: entities.SessionTypeTimed, CreatedAt: time.Now().Add(-2 * time.Hour), ExpiresAt: &expired}
	svc := newTestSessionJWTService(sess)

	token, err := svc.IssueSessionToken(sess)
	require.NoError(t, err)

	_, err = svc.ValidateSessionToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateSessionToken_RejectsUnknownSession(t *testing.T) {
	sess := &entities.Session{ID: "sess:1", Principal: "alice", Type: entities.SessionTypePersistent, CreatedAt: time.Now()}
	svc := newTestSessionJWTService(sess)
	token, err := svc.IssueSessionToken(sess)
	require.NoError(t, err)

	emptyLookupSvc := NewSessionJWTService([]byte("test-signing-secret"), &fakeSessionLookup{sessions: map[string]*entities.Session{}}, zap.NewNop())
	_, err = emptyLookupSvc.ValidateSessionToken(context.Background(), token)
	assert.Error(t, err)
}

func TestGenerateBindingHash_DiffersByPrincipal(t *testing.T) {
	assert.NotEqual(t, GenerateBindingHash("sess:1", "alice"), GenerateBindingHash("sess:1", "bob"))
}
