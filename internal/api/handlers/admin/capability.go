package admin

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/capkernel/kernel/internal/api/handlers/common"
	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/services/capability"
	"github.com/capkernel/kernel/pkg/validation"
)

type CapabilityHandler struct {
	capability *capability.Service
}

func NewCapabilityHandler(capabilitySvc *capability.Service) *CapabilityHandler {
	return &CapabilityHandler{capability: capabilitySvc}
}

// Grant handles POST /admin/capabilities: issues a new capability to a
// principal, the administrative counterpart to a workflow requesting one
// implicitly through browser.* calls.
func (h *CapabilityHandler) Grant(c *gin.Context) {
	var req validation.GrantRequest
	if !validation.GetValidator(c).ValidateJSON(c, &req) {
		return
	}

	var ttl *time.Duration
	if req.TTLSeconds > 0 {
		d := time.Duration(req.TTLSeconds) * time.Second
		ttl = &d
	}

	grant, err := h.capability.Grant(c.Request.Context(), entities.Principal(req.Principal), req.Operation, req.Resource, entities.CapabilityRisk(req.Risk), ttl)
	if err != nil {
		common.HandleServiceError(c, err, "capability")
		return
	}
	common.RespondCreated(c, grant)
}

// List handles GET /admin/capabilities?principal=..., listing every
// capability currently held by a principal.
func (h *CapabilityHandler) List(c *gin.Context) {
	principal := c.Query("principal")
	if principal == "" {
		common.RespondBadRequest(c, "principal query parameter is required")
		return
	}
	caps := h.capability.ListCapabilities(entities.Principal(principal))
	common.RespondSuccess(c, caps)
}

// Revoke handles POST /admin/capabilities/:token/revoke.
func (h *CapabilityHandler) Revoke(c *gin.Context) {
	token := c.Param("token")
	revokedBy, err := common.GetPrincipal(c)
	if err != nil {
		common.RespondUnauthorized(c, "principal required to revoke")
		return
	}

	if err := h.capability.Revoke(c.Request.Context(), token, string(revokedBy)); err != nil {
		common.HandleServiceError(c, err, "capability")
		return
	}
	common.RespondNoContent(c)
}

// RevokeAll handles POST /admin/capabilities/revoke-all?principal=...,
// the cascading revocation an ended session or a compromised principal
// needs.
func (h *CapabilityHandler) RevokeAll(c *gin.Context) {
	principal := c.Query("principal")
	if principal == "" {
		common.RespondBadRequest(c, "principal query parameter is required")
		return
	}
	revokedBy, err := common.GetPrincipal(c)
	if err != nil {
		common.RespondUnauthorized(c, "principal required to revoke")
		return
	}

	count, err := h.capability.RevokeAll(c.Request.Context(), entities.Principal(principal), string(revokedBy))
	if err != nil {
		common.HandleServiceError(c, err, "capability")
		return
	}
	common.RespondSuccess(c, gin.H{"revoked_count": count})
}
