package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
	"github.com/capkernel/kernel/internal/domain/services/audit"
)

type fakeAuditRepoAdmin struct {
	mu      sync.Mutex
	entries []*entities.AuditEntry
}

func (f *fakeAuditRepoAdmin) Append(_ context.Context, entry *entities.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepoAdmin) LastHash(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return "", nil
	}
	return f.entries[len(f.entries)-1].CurrentHash, nil
}

func (f *fakeAuditRepoAdmin) Query(_ context.Context, filter repositories.AuditFilter) ([]*entities.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.AuditEntry
	for _, e := range f.entries {
		if filter.Operation != "" && e.Operation != filter.Operation {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeAuditRepoAdmin) Count(ctx context.Context, filter repositories.AuditFilter) (int64, error) {
	entries, err := f.Query(ctx, filter)
	return int64(len(entries)), err
}

func (f *fakeAuditRepoAdmin) TransactionLog(_ context.Context, txID string) ([]*entities.AuditEntry, error) {
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

func newTestAuditRouter() (*gin.Engine, *AuditHandler) {
	gin.SetMode(gin.TestMode)
	svc := audit.NewService(&fakeAuditRepoAdmin{}, zap.NewNop(), "test-salt")
	h := NewAuditHandler(svc)

	router := gin.New()
	router.GET("/admin/audit", h.Query)
	router.GET("/admin/audit/transactions/:id", h.TransactionLog)
	router.GET("/admin/audit/integrity", h.VerifyIntegrity)
	router.GET("/admin/audit/compliance-report", h.ComplianceReport)
	return router, h
}

func TestAuditQuery_ReturnsLoggedEntries(t *testing.T) {
	router, h := newTestAuditRouter()
	ctx := context.Background()
	_, err := h.audit.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-1", nil, "ok")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit?operation=tab.navigate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var entries []entities.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
}

func TestAuditQuery_InvalidSinceTimestampRejected(t *testing.T) {
	router, _ := newTestAuditRouter()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit?since=not-a-time", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditVerifyIntegrity_DefaultsToLast24Hours(t *testing.T) {
	router, h := newTestAuditRouter()
	ctx := context.Background()
	_, err := h.audit.Log(ctx, "alice", entities.ProvenanceAgent, "tab.navigate", "tab-1", nil, "ok")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/integrity", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result audit.IntegrityResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Verified)
}

func TestAuditComplianceReport_RequiresSinceAndUntil(t *testing.T) {
	router, _ := newTestAuditRouter()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/compliance-report", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditComplianceReport_ReturnsAggregatedCounts(t *testing.T) {
	router, h := newTestAuditRouter()
	ctx := context.Background()
	_, err := h.audit.Log(ctx, "alice", entities.ProvenanceAgent, "capability.check", "op-1", nil, "denied")
	require.NoError(t, err)

	since := time.Now().Add(-time.Hour).Format(time.RFC3339)
	until := time.Now().Add(time.Hour).Format(time.RFC3339)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/compliance-report?since="+since+"&until="+until, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var report entities.ComplianceReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, int64(1), report.TotalEvents)
}

func TestAuditTransactionLog_FiltersByTransactionID(t *testing.T) {
	router, _ := newTestAuditRouter()

	req := httptest.NewRequest(http.MethodGet, "/admin/audit/transactions/tx-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var entries []entities.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}
