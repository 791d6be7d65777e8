package compliance

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
	"github.com/capkernel/kernel/internal/domain/services/audit"
	"github.com/capkernel/kernel/internal/domain/services/capability"
)

type fakeAuditRepoSweep struct {
	mu      sync.Mutex
	entries []*entities.AuditEntry
}

func (f *fakeAuditRepoSweep) Append(_ context.Context, entry *entities.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepoSweep) LastHash(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return "", nil
	}
	return f.entries[len(f.entries)-1].CurrentHash, nil
}

func (f *fakeAuditRepoSweep) Query(_ context.Context, filter repositories.AuditFilter) ([]*entities.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*entities.AuditEntry(nil), f.entries...)
	return out, nil
}

func (f *fakeAuditRepoSweep) Count(ctx context.Context, filter repositories.AuditFilter) (int64, error) {
	entries, err := f.Query(ctx, filter)
	return int64(len(entries)), err
}

func (f *fakeAuditRepoSweep) TransactionLog(_ context.Context, txID string) ([]*entities.AuditEntry, error) {
	return nil, nil
}

type fakeRevocationRepoSweep struct {
	all []*entities.Revocation
}

func (f *fakeRevocationRepoSweep) Create(_ context.Context, r *entities.Revocation) error {
	f.all = append(f.all, r)
	return nil
}

func (f *fakeRevocationRepoSweep) ListAll(_ context.Context) ([]*entities.Revocation, error) {
	return f.all, nil
}

func (f *fakeRevocationRepoSweep) ListByPrincipal(_ context.Context, p entities.Principal) ([]*entities.Revocation, error) {
	var out []*entities.Revocation
	for _, r := range f.all {
		if r.Principal == p {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestSweeper(t *testing.T) (*Sweeper, *audit.Service, *capability.Service, *fakeRevocationRepoSweep) {
	t.Helper()
	auditSvc := audit.NewService(&fakeAuditRepoSweep{}, zap.NewNop(), "test-salt")
	revocations := &fakeRevocationRepoSweep{}
	capSvc := capability.NewService(revocations, nil, zap.NewNop())
	return NewSweeper(auditSvc, capSvc, zap.NewNop()), auditSvc, capSvc, revocations
}

func TestRunSweep_VerifiesIntegrityAndReloadsRevocations(t *testing.T) {
	_, auditSvc, capSvc, revocations := newTestSweeper(t)
	ctx := context.Background()

	token, err := capSvc.Grant(ctx, "alice", "tab.navigate", "tab:1", entities.CapabilityRiskRead, nil)
	require.NoError(t, err)
	require.NoError(t, capSvc.Revoke(ctx, token.Token, "admin"))

	_, err = auditSvc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab:1", nil, "ok")
	require.NoError(t, err)

	// A second instance shares the durable revocation store but has not
	// observed the revocation yet, mirroring a multi-instance deployment.
	fresh := capability.NewService(revocations, nil, zap.NewNop())
	freshSweeper := NewSweeper(auditSvc, fresh, zap.NewNop())
	assert.False(t, fresh.IsTokenRevoked(token.Token))

	freshSweeper.runSweep()

	assert.True(t, fresh.IsTokenRevoked(token.Token))
	assert.False(t, freshSweeper.lastSwept.IsZero())
}

func TestGenerateDailyReport_CoversPriorUTCDay(t *testing.T) {
	sweeper, auditSvc, _, _ := newTestSweeper(t)
	ctx := context.Background()

	_, err := auditSvc.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab:1", nil, "ok")
	require.NoError(t, err)

	report, err := sweeper.GenerateDailyReport(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 24*time.Hour, report.PeriodEnd.Sub(report.PeriodStart))
	assert.True(t, report.PeriodEnd.Equal(report.PeriodEnd.UTC().Truncate(24*time.Hour)), "the period must end at a UTC midnight")
}

func TestStartThenStop_SchedulesAndTerminatesCleanly(t *testing.T) {
	sweeper, _, _, _ := newTestSweeper(t)

	require.NoError(t, sweeper.Start(50*time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	sweeper.Stop()
}
