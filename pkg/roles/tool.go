package roles

import (
	"context"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// Invoker is the boundary the Tool role calls through to actually run a
// declared tool; pkg/tool's MCP client implements it. Kept as an
// interface here so this handler stays a pure function of its
// dependencies for testing, the same discipline every other role follows.
type Invoker interface {
	Invoke(ctx context.Context, tool config.ToolYAML, input map[string]any) (output map[string]any, err error)
}

// Tool implements the tool role: it executes the declared tool for a
// step, writing a ToolExecution row on both the request and the outcome,
// and reports the result as tool.completed so the step role can advance.
// A failed invocation is reported as a successful Handle with
// success=false in the payload, not a Go error — tool failure is an
// expected outcome the step's failure_policy decides what to do with,
// distinct from a worker-level processing error (spec.md §7).
type Tool struct {
	Invoker Invoker
}

// Role implements Handler.
func (Tool) Role() string { return "tool" }

// Handle implements Handler.
func (t Tool) Handle(ctx context.Context, state *domain.Exception, progress *domain.PlaybookProgress, ev eventlog.Envelope, cfg *config.Snapshot) (Delta, error) {
	if state == nil {
		return Delta{}, classify.StalePrecondition{Err: errExceptionNotFound(ev.ExceptionID)}
	}
	if cfg == nil {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	var in ToolRequestedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}

	decl, ok := cfg.Tools[in.ToolID]
	if !ok {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(in.ToolID)}
	}

	exec := domain.ToolExecution{
		TenantID:        state.TenantID,
		ExceptionID:     state.ExceptionID,
		ExecutionID:     ev.EventID,
		StepOrder:       in.StepOrder,
		ToolID:          in.ToolID,
		RequestedByType: domain.ActorSystem,
		RequestedByID:   "tool",
		InputPayload:    mustJSON(in.Input),
		Status:          domain.ToolRunning,
		RequestedAt:     ev.OccurredAt,
	}

	output, err := t.Invoker.Invoke(ctx, decl, in.Input)
	completed := exec
	now := ev.OccurredAt
	completed.CompletedAt = &now

	payloadOut := ToolCompletedPayload{PlaybookID: in.PlaybookID, StepOrder: in.StepOrder, Success: err == nil}
	if err != nil {
		completed.Status = domain.ToolFailed
		completed.ErrorMessage = err.Error()
		payloadOut.ErrorMsg = err.Error()
	} else {
		completed.Status = domain.ToolSucceeded
		completed.OutputPayload = mustJSON(output)
	}

	return Delta{
		Exception:      state,
		ToolExecutions: []domain.ToolExecution{completed},
		Events: []domain.Event{
			newEvent(state.ID(), "ToolCompleted", domain.ActorSystem, "tool", payloadOut, ev.Attempt),
		},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicToolCompleted,
			Envelope: nextEnvelope(ev, "ToolCompleted", payloadOut),
		}},
	}, nil
}
