package admin

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/capkernel/kernel/internal/api/handlers/common"
	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/services/session"
	"github.com/capkernel/kernel/pkg/validation"
)

type SessionHandler struct {
	session *session.Service
}

func NewSessionHandler(sessionSvc *session.Service) *SessionHandler {
	return &SessionHandler{session: sessionSvc}
}

type createSessionRequest struct {
	Principal  string `json:"principal" validate:"required"`
	Type       string `json:"type" validate:"required,oneof=process workspace timed persistent"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=1"`
}

// Create handles POST /admin/sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if !validation.GetValidator(c).ValidateJSON(c, &req) {
		return
	}

	sess, err := h.session.CreateSession(c.Request.Context(), entities.Principal(req.Principal), entities.SessionType(req.Type), durationFromSeconds(req.TTLSeconds))
	if err != nil {
		common.HandleServiceError(c, err, "session")
		return
	}
	common.RespondCreated(c, sess)
}

func durationFromSeconds(seconds int) *time.Duration {
	if seconds <= 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

// Get handles GET /admin/sessions/:id.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.session.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleServiceError(c, err, "session")
		return
	}
	common.RespondSuccess(c, sess)
}

// End handles POST /admin/sessions/:id/end, cascading into revocation of
// every grant issued under the session.
func (h *SessionHandler) End(c *gin.Context) {
	if err := h.session.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		common.HandleServiceError(c, err, "session")
		return
	}
	common.RespondNoContent(c)
}

// ListGrants handles GET /admin/sessions/:id/grants.
func (h *SessionHandler) ListGrants(c *gin.Context) {
	grants, err := h.session.ListGrants(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleServiceError(c, err, "session grants")
		return
	}
	common.RespondSuccess(c, grants)
}
