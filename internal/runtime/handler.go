package runtime

import (
	"context"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/runtime/ipc"
)

// IPCHandler adapts an Executor to ipc.Handler, the boundary between the
// length-framed socket protocol and the sandboxed execution engine.
type IPCHandler struct {
	executor *Executor
}

func NewIPCHandler(executor *Executor) *IPCHandler {
	return &IPCHandler{executor: executor}
}

func (h *IPCHandler) Execute(code, principal string) ipc.Response {
	result := h.executor.Execute(context.Background(), entities.Principal(principal), code)
	return ipc.Response{
		State:       string(result.State),
		ReturnValue: result.ReturnValue,
		Error:       result.Error,
		DurationMS:  result.DurationMS,
	}
}

func (h *IPCHandler) Validate(code string) ipc.Response {
	result := ValidateCode(code)
	valid := result.Valid
	return ipc.Response{Valid: &valid, Errors: result.Violations}
}
