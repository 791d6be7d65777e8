// Package admin implements the kernel's inspection/administration HTTP
// surface, grounded on the teacher's internal/api/handlers admin
// handlers: thin gin.HandlerFunc wrappers that bind a request, call one
// domain service method, and respond through the shared common package.
package admin

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/capkernel/kernel/internal/api/handlers/common"
	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/repositories"
	"github.com/capkernel/kernel/internal/domain/services/audit"
)

type AuditHandler struct {
	audit *audit.Service
}

func NewAuditHandler(auditSvc *audit.Service) *AuditHandler {
	return &AuditHandler{audit: auditSvc}
}

// Query handles GET /admin/audit: filterable by operation, principal, and
// a since/until window, with the shared pagination convention.
func (h *AuditHandler) Query(c *gin.Context) {
	pagination := common.ExtractPagination(c, 50, 500)

	filter := repositories.AuditFilter{
		Operation: c.Query("operation"),
		Principal: entities.Principal(c.Query("principal")),
		Limit:     pagination.Limit,
	}

	if since := c.Query("since"); since != "" {
		t, err := common.ParseTime(since)
		if err != nil {
			common.RespondBadRequest(c, "invalid since timestamp")
			return
		}
		filter.Since = &t
	}
	if until := c.Query("until"); until != "" {
		t, err := common.ParseTime(until)
		if err != nil {
			common.RespondBadRequest(c, "invalid until timestamp")
			return
		}
		filter.Until = &t
	}

	entries, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		common.HandleServiceError(c, err, "audit entries")
		return
	}
	common.RespondSuccess(c, entries)
}

// TransactionLog handles GET /admin/audit/transactions/:id, returning
// every entry stamped with the given transaction ID in commit order.
func (h *AuditHandler) TransactionLog(c *gin.Context) {
	txID := c.Param("id")
	entries, err := h.audit.TransactionLog(c.Request.Context(), txID)
	if err != nil {
		common.HandleServiceError(c, err, "transaction log")
		return
	}
	common.RespondSuccess(c, entries)
}

// VerifyIntegrity handles GET /admin/audit/integrity, recomputing the
// hash chain over an operator-supplied window and reporting the first
// tampered or broken-link entry, if any.
func (h *AuditHandler) VerifyIntegrity(c *gin.Context) {
	until := time.Now()
	since := until.Add(-24 * time.Hour)

	if s := c.Query("since"); s != "" {
		if t, err := common.ParseTime(s); err == nil {
			since = t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := common.ParseTime(u); err == nil {
			until = t
		}
	}

	result, err := h.audit.VerifyIntegrity(c.Request.Context(), since, until)
	if err != nil {
		common.RespondInternalError(c, "integrity verification failed")
		return
	}
	common.RespondSuccess(c, result)
}

// ComplianceReport handles GET /admin/audit/compliance-report for an
// operator-chosen period, rather than relying solely on the daily cron
// sweep's report.
func (h *AuditHandler) ComplianceReport(c *gin.Context) {
	since := c.Query("since")
	until := c.Query("until")
	if since == "" || until == "" {
		common.RespondBadRequest(c, "since and until are required")
		return
	}

	periodStart, err := common.ParseTime(since)
	if err != nil {
		common.RespondBadRequest(c, "invalid since timestamp")
		return
	}
	periodEnd, err := common.ParseTime(until)
	if err != nil {
		common.RespondBadRequest(c, "invalid until timestamp")
		return
	}

	report, err := h.audit.GenerateComplianceReport(c.Request.Context(), periodStart, periodEnd)
	if err != nil {
		common.RespondInternalError(c, "report generation failed")
		return
	}
	common.RespondSuccess(c, report)
}
