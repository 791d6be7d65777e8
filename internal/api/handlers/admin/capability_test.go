package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/services/capability"
)

type fakeRevocationRepo struct {
	mu   sync.Mutex
	recs []*entities.Revocation
}

func (f *fakeRevocationRepo) Create(_ context.Context, r *entities.Revocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, r)
	return nil
}

func (f *fakeRevocationRepo) ListAll(_ context.Context) ([]*entities.Revocation, error) {
	return f.recs, nil
}

func (f *fakeRevocationRepo) ListByPrincipal(_ context.Context, p entities.Principal) ([]*entities.Revocation, error) {
	var out []*entities.Revocation
	for _, r := range f.recs {
		if r.Principal == p {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestCapabilityRouter() (*gin.Engine, *CapabilityHandler) {
	gin.SetMode(gin.TestMode)
	svc := capability.NewService(&fakeRevocationRepo{}, nil, zap.NewNop())
	h := NewCapabilityHandler(svc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("principal", entities.Principal("admin"))
		c.Next()
	})
	router.POST("/admin/capabilities", h.Grant)
	router.GET("/admin/capabilities", h.List)
	router.POST("/admin/capabilities/:token/revoke", h.Revoke)
	router.POST("/admin/capabilities/revoke-all", h.RevokeAll)
	return router, h
}

func TestCapabilityGrant_ValidRequestReturns201(t *testing.T) {
	router, _ := newTestCapabilityRouter()

	body, _ := json.Marshal(map[string]any{
		"principal": "alice",
		"operation": "tab.navigate",
		"resource":  "tab:*",
		"risk":      "stateful",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/capabilities", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCapabilityGrant_RejectsInvalidRisk(t *testing.T) {
	router, _ := newTestCapabilityRouter()

	body, _ := json.Marshal(map[string]any{
		"principal": "alice",
		"operation": "tab.navigate",
		"resource":  "tab:*",
		"risk":      "catastrophic",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/capabilities", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapabilityList_RequiresPrincipalQueryParam(t *testing.T) {
	router, _ := newTestCapabilityRouter()

	req := httptest.NewRequest(http.MethodGet, "/admin/capabilities", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapabilityGrantThenList_ReturnsGrantedCapability(t *testing.T) {
	router, _ := newTestCapabilityRouter()

	body, _ := json.Marshal(map[string]any{
		"principal": "alice",
		"operation": "tab.navigate",
		"resource":  "tab:*",
		"risk":      "stateful",
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/capabilities", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/admin/capabilities?principal=alice", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var caps []entities.Capability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &caps))
	require.Len(t, caps, 1)
	assert.Equal(t, "tab.navigate", caps[0].Operation)
}

func TestCapabilityRevoke_EndsCapabilityAccess(t *testing.T) {
	router, h := newTestCapabilityRouter()
	ctx := context.Background()

	cap, err := h.capability.Grant(ctx, "alice", "tab.navigate", "tab:*", entities.CapabilityRiskStateful, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/capabilities/"+cap.Token+"/revoke", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, h.capability.Check(ctx, "alice", "tab.navigate", "tab:home"))
}

func TestCapabilityRevokeAll_RevokesEveryGrantForPrincipal(t *testing.T) {
	router, h := newTestCapabilityRouter()
	ctx := context.Background()

	_, err := h.capability.Grant(ctx, "alice", "tab.navigate", "tab:*", entities.CapabilityRiskStateful, nil)
	require.NoError(t, err)
	_, err = h.capability.Grant(ctx, "alice", "form.fill", "form:*", entities.CapabilityRiskStateful, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/capabilities/revoke-all?principal=alice", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["revoked_count"])
}
