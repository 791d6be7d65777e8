package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/capkernel/kernel/internal/api/handlers/common"
	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/runtime"
	"github.com/capkernel/kernel/pkg/validation"
)

type WorkflowHandler struct {
	executor *runtime.Executor
}

func NewWorkflowHandler(executor *runtime.Executor) *WorkflowHandler {
	return &WorkflowHandler{executor: executor}
}

// Validate handles POST /admin/workflows/validate: static checks only,
// no execution, matching the IPC protocol's "validate" method.
func (h *WorkflowHandler) Validate(c *gin.Context) {
	var req validation.ExecuteRequest
	if !validation.GetValidator(c).ValidateJSON(c, &req) {
		return
	}
	result := runtime.ValidateCode(req.Source)
	common.RespondSuccess(c, result)
}

// Execute handles POST /admin/workflows/execute, the HTTP-facing
// equivalent of submitting code over the IPC socket; used for
// operator-driven or scripted execution outside the sandboxed-process
// caller the IPC server targets.
func (h *WorkflowHandler) Execute(c *gin.Context) {
	var req validation.ExecuteRequest
	if !validation.GetValidator(c).ValidateJSON(c, &req) {
		return
	}

	result := h.executor.Execute(c.Request.Context(), entities.Principal(req.Principal), req.Source)
	common.RespondSuccess(c, result)
}
