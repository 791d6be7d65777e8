package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
)

// fakeAuditRepo is an in-memory repositories.AuditRepository, the same
// fake-over-interface pattern the teacher's tests use for its Postgres
// repositories.
type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*entities.AuditEntry
}

func newFakeAuditRepo() *fakeAuditRepo { return &fakeAuditRepo{} }

func (f *fakeAuditRepo) Append(_ context.Context, entry *entities.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) LastHash(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return "", nil
	}
	return f.entries[len(f.entries)-1].CurrentHash, nil
}

func (f *fakeAuditRepo) Query(_ context.Context, filter repositories.AuditFilter) ([]*entities.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.AuditEntry
	for _, e := range f.entries {
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.Timestamp.After(*filter.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeAuditRepo) Count(ctx context.Context, filter repositories.AuditFilter) (int64, error) {
	entries, err := f.Query(ctx, filter)
	return int64(len(entries)), err
}

func (f *fakeAuditRepo) TransactionLog(_ context.Context, txID string) ([]*entities.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.AuditEntry
	for _, e := range f.entries {
		if e.TransactionID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestService() (*Service, *fakeAuditRepo) {
	repo := newFakeAuditRepo()
	svc := NewService(repo, zap.NewNop(), "test-salt")
	return svc, repo
}

func TestLog_ChainsHashes(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-1", nil, "ok")
	require.NoError(t, err)
	assert.Empty(t, first.PreviousHash)
	assert.NotEmpty(t, first.CurrentHash)

	second, err := svc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-2", nil, "ok")
	require.NoError(t, err)
	assert.Equal(t, first.CurrentHash, second.PreviousHash)
}

func TestLog_RedactsSensitiveKeys(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Log(ctx, "alice", entities.ProvenanceAgent, "form.fill", "form-1", map[string]any{
		"password": "hunter2",
		"api_key":  "sk-test",
		"amount":   42,
	}, "ok")
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)
	args := repo.entries[0].Args
	assert.Equal(t, "[REDACTED]", args["password"])
	assert.Equal(t, "[REDACTED]", args["api_key"])
	assert.Equal(t, 42, args["amount"])
}

func TestLog_HashesPIIFieldNames(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Log(ctx, "alice", entities.ProvenanceAgent, "form.fill", "form-1", map[string]any{
		"ssn": "123-45-6789",
	}, "ok")
	require.NoError(t, err)

	require.Len(t, repo.entries, 1)
	var sawPIIKey bool
	for k := range repo.entries[0].Args {
		if k != "ssn" {
			sawPIIKey = true
			assert.Contains(t, k, "[PII:")
		}
	}
	assert.True(t, sawPIIKey, "expected the ssn key to be replaced with a [PII:...] key")
}

func TestVerifyIntegrity_DetectsTampering(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-1", nil, "ok")
	require.NoError(t, err)
	_, err = svc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-2", nil, "ok")
	require.NoError(t, err)

	since := time.Now().Add(-time.Hour)
	until := time.Now().Add(time.Hour)

	result, err := svc.VerifyIntegrity(ctx, since, until)
	require.NoError(t, err)
	assert.True(t, result.Verified)

	repo.entries[0].Result = "tampered"
	result, err = svc.VerifyIntegrity(ctx, since, until)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, repo.entries[0].ID, result.TamperedID)
}

func TestExportImportExport_RoundTripsByteIdentical(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-1", map[string]any{"url": "https://example.com"}, "ok")
	require.NoError(t, err)
	_, err = svc.Log(ctx, "alice", entities.ProvenanceAgent, "form.fill", "form-1", map[string]any{"fields": []any{"user"}}, "ok")
	require.NoError(t, err)

	since := time.Now().Add(-time.Hour)
	until := time.Now().Add(time.Hour)
	filter := repositories.AuditFilter{Since: &since, Until: &until, Limit: 1000}

	first, err := svc.Export(ctx, filter)
	require.NoError(t, err)

	importSvc, _ := newTestService()
	n, err := importSvc.Import(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second, err := importSvc.Export(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateComplianceReport_AggregatesByOperation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, _ = svc.Log(ctx, "alice", entities.ProvenanceAgent, "capability.check", "op-1", nil, "denied")
	_, _ = svc.Log(ctx, "bob", entities.ProvenanceAgent, "capability.check", "op-2", nil, "allowed")
	_, _ = svc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-1", nil, "ok")

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	report, err := svc.GenerateComplianceReport(ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.TotalEvents)
	assert.Equal(t, int64(2), report.UniquePrincipals)
	assert.Equal(t, int64(1), report.DeniedChecks)
	assert.Equal(t, int64(2), report.OperationCounts["capability.check"])
	assert.True(t, report.HashChainValid)
}
