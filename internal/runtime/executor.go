// executor.go is the Go/goja analogue of AgentRuntime.execute: validate
// first, then run the script in a bounded-time sandbox exposing only the
// `browser` global, returning an ExecutionResult with the same
// pending/running/completed/failed/timeout vocabulary as the reference
// ExecutionState enum.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/runtime/approval"
	"github.com/capkernel/kernel/pkg/metrics"
)

type ExecutionState string

const (
	StatePending   ExecutionState = "pending"
	StateRunning   ExecutionState = "running"
	StateCompleted ExecutionState = "completed"
	StateFailed    ExecutionState = "failed"
	StateTimeout   ExecutionState = "timeout"
)

// ExecutionResult is the outcome of running one workflow script.
type ExecutionResult struct {
	State      ExecutionState
	ReturnValue any
	Error      string
	DurationMS int64
}

// Executor runs validated workflow scripts against a bounded-time goja
// sandbox, the single entry point browser.* methods are reachable
// through.
type Executor struct {
	objects       ObjectStore
	caps          CapabilityChecker
	audit         Auditor
	approver      approval.Provider
	openTx        TxOpener
	notify        ApprovalChannel
	timeout       time.Duration
	kernelVersion string
}

func NewExecutor(objects ObjectStore, caps CapabilityChecker, audit Auditor, approver approval.Provider, openTx TxOpener, timeout time.Duration, kernelVersion string, notify ApprovalChannel) *Executor {
	return &Executor{objects: objects, caps: caps, audit: audit, approver: approver, openTx: openTx, timeout: timeout, kernelVersion: kernelVersion, notify: notify}
}

// Execute validates source, then runs it with a single `browser` global
// bound, interrupting the goja VM if it runs longer than the configured
// timeout (the Go analogue of the reference's thread.join(timeout=...)
// plus thread.is_alive() check).
func (e *Executor) Execute(ctx context.Context, principal entities.Principal, source string) ExecutionResult {
	validation := ValidateCode(source)
	if !validation.Valid {
		metrics.WorkflowExecutionsTotal.WithLabelValues(string(StateFailed)).Inc()
		return ExecutionResult{State: StateFailed, Error: fmt.Sprintf("validation failed: %v", validation.Violations)}
	}

	meta := ParseMetadata(source)
	if err := meta.CheckVersionCompatible(e.kernelVersion); err != nil {
		metrics.WorkflowExecutionsTotal.WithLabelValues(string(StateFailed)).Inc()
		return ExecutionResult{State: StateFailed, Error: err.Error()}
	}

	start := time.Now()
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("js", true))

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	browser := NewBrowserAPI(execCtx, principal, e.objects, e.caps, e.audit, e.approver, e.openTx, e.notify)
	if err := vm.Set("browser", browser); err != nil {
		return ExecutionResult{State: StateFailed, Error: err.Error()}
	}

	done := make(chan ExecutionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ExecutionResult{State: StateFailed, Error: fmt.Sprintf("panic: %v", r)}
			}
		}()
		value, err := vm.RunString(source)
		if err != nil {
			if _, ok := err.(*goja.InterruptedError); ok {
				done <- ExecutionResult{State: StateTimeout, Error: "execution interrupted"}
				return
			}
			done <- ExecutionResult{State: StateFailed, Error: err.Error()}
			return
		}
		done <- ExecutionResult{State: StateCompleted, ReturnValue: exportValue(value)}
	}()

	select {
	case result := <-done:
		result.DurationMS = time.Since(start).Milliseconds()
		metrics.WorkflowExecutionsTotal.WithLabelValues(string(result.State)).Inc()
		metrics.WorkflowExecutionDuration.Observe(time.Since(start).Seconds())
		return result
	case <-execCtx.Done():
		vm.Interrupt("execution timeout")
		<-done // wait for the goroutine to observe the interrupt and exit
		metrics.WorkflowExecutionsTotal.WithLabelValues(string(StateTimeout)).Inc()
		return ExecutionResult{State: StateTimeout, Error: "execution timed out", DurationMS: time.Since(start).Milliseconds()}
	}
}

func exportValue(v goja.Value) any {
	if v == nil {
		return nil
	}
	return v.Export()
}
