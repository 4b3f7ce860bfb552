package roles

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/policy"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// ToolRequestedPayload is the tool.requested envelope's payload.
type ToolRequestedPayload struct {
	PlaybookID string         `json:"playbook_id"`
	StepOrder  int            `json:"step_order"`
	ToolID     string         `json:"tool_id"`
	Input      map[string]any `json:"input"`
}

// ToolCompletedPayload is the tool.completed envelope's payload, as
// produced by the Tool role.
type ToolCompletedPayload struct {
	PlaybookID string `json:"playbook_id"`
	StepOrder  int    `json:"step_order"`
	Success    bool   `json:"success"`
	ErrorMsg   string `json:"error,omitempty"`
}

// StepCompletedPayload is the step.completed envelope's payload, whether
// produced internally (tool/decision step finished) or externally (an
// operator closing out a human step via the ingest API).
type StepCompletedPayload struct {
	PlaybookID string `json:"playbook_id"`
	StepOrder  int    `json:"step_order"`
	Notes      string `json:"notes,omitempty"`
}

// PlaybookCompletedPayload marks every step of the matched playbook done.
type PlaybookCompletedPayload struct {
	PlaybookID string `json:"playbook_id"`
}

// Step implements the step role: it dispatches each step.requested to a
// tool or leaves it for a human action, and reacts to the step's
// completion (whether from a tool or an operator) by advancing
// current_step or closing out the playbook. It is the only role that
// consumes three event types (StepRequested, ToolCompleted,
// StepCompleted) instead of one, because spec.md's step state machine is
// driven by both automated and external completions.
type Step struct{}

// Role implements Handler.
func (Step) Role() string { return "step" }

// Handle implements Handler.
func (s Step) Handle(_ context.Context, state *domain.Exception, progress *domain.PlaybookProgress, ev eventlog.Envelope, cfg *config.Snapshot) (Delta, error) {
	if state == nil {
		return Delta{}, classify.StalePrecondition{Err: errExceptionNotFound(ev.ExceptionID)}
	}
	if progress == nil {
		return Delta{}, classify.StalePrecondition{Err: fmt.Errorf("roles: no playbook progress for %s", ev.ExceptionID)}
	}
	if cfg == nil {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(ev.ExceptionID)}
	}
	if state.CurrentStage != domain.StageStep {
		return Delta{Exception: state, PlaybookProgress: progress}, nil
	}

	def, err := policy.ResolvePlaybook(cfg, progress.PlaybookID)
	if err != nil {
		return Delta{}, classify.ConfigMissing{Err: err}
	}

	switch ev.EventType {
	case "StepRequested":
		return s.dispatch(state, progress, def, ev)
	case "ToolCompleted":
		return s.onToolCompleted(state, progress, def, ev)
	case "StepCompleted":
		return s.onStepCompleted(state, progress, def, ev)
	default:
		return Delta{}, classify.Permanent{Err: fmt.Errorf("roles: step handler cannot process %s", ev.EventType)}
	}
}

func (Step) dispatch(state *domain.Exception, progress *domain.PlaybookProgress, def *domain.PlaybookDef, ev eventlog.Envelope) (Delta, error) {
	var in StepRequestedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}
	sp := progress.StepAt(in.StepOrder)
	if sp == nil {
		return Delta{}, classify.Permanent{Err: fmt.Errorf("roles: step %d not declared in playbook %s", in.StepOrder, progress.PlaybookID)}
	}
	if sp.Status != domain.StepPending {
		// Redelivery of a StepRequested for a step already dispatched.
		return Delta{Exception: state, PlaybookProgress: progress}, nil
	}
	if !progress.CanAdvance(in.StepOrder) {
		return Delta{}, classify.StalePrecondition{Err: fmt.Errorf("roles: step %d cannot start, predecessor incomplete", in.StepOrder)}
	}

	next := *progress
	next.Steps = append([]domain.StepProgress(nil), progress.Steps...)
	ns := next.StepAt(in.StepOrder)
	ns.Status = domain.StepInProgress

	stepDef := def.StepDefAt(in.StepOrder)
	if stepDef == nil {
		return Delta{}, classify.ConfigMissing{Err: fmt.Errorf("roles: step %d missing from playbook definition", in.StepOrder)}
	}

	if stepDef.ActionType != domain.ActionTool {
		// Human and decision steps wait for an external completion; no
		// outbound envelope until that arrives.
		return Delta{Exception: state, PlaybookProgress: &next}, nil
	}

	toolID, _ := in.Config["tool_id"].(string)
	payloadOut := ToolRequestedPayload{PlaybookID: progress.PlaybookID, StepOrder: in.StepOrder, ToolID: toolID, Input: in.Config}
	return Delta{
		Exception:        state,
		PlaybookProgress: &next,
		Events: []domain.Event{
			newEvent(state.ID(), "ToolRequested", domain.ActorSystem, "step", payloadOut, 1),
		},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicToolRequested,
			Envelope: nextEnvelope(ev, "ToolRequested", payloadOut),
		}},
	}, nil
}

func (s Step) onToolCompleted(state *domain.Exception, progress *domain.PlaybookProgress, def *domain.PlaybookDef, ev eventlog.Envelope) (Delta, error) {
	var in ToolCompletedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}
	if in.Success {
		return s.completeStep(state, progress, def, ev, in.StepOrder, "")
	}
	return s.onStepFailure(state, progress, def, ev, in.StepOrder)
}

func (s Step) onStepCompleted(state *domain.Exception, progress *domain.PlaybookProgress, def *domain.PlaybookDef, ev eventlog.Envelope) (Delta, error) {
	var in StepCompletedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}
	return s.completeStep(state, progress, def, ev, in.StepOrder, in.Notes)
}

// onStepFailure applies the step's declared failure policy: retry (the
// caller redelivers step.requested up to max_retries, handled by
// pkg/retry like any other transient failure), skip (treated as
// complete), or escalate (exception leaves automated processing).
func (s Step) onStepFailure(state *domain.Exception, progress *domain.PlaybookProgress, def *domain.PlaybookDef, ev eventlog.Envelope, order int) (Delta, error) {
	sd := def.StepDefAt(order)
	if sd == nil {
		return Delta{}, classify.ConfigMissing{Err: fmt.Errorf("roles: step %d missing from playbook definition", order)}
	}

	switch sd.FailurePolicy.Kind {
	case domain.FailureSkip:
		return s.completeStep(state, progress, def, ev, order, "skipped after tool failure")
	case domain.FailureRetry:
		// pkg/retry's attempt-count/backoff handles the actual resend;
		// here the step simply reports the failure as transient so the
		// envelope flows back through the retry controller.
		return Delta{}, classify.Transient{Err: fmt.Errorf("roles: step %d tool failed, retrying per policy", order)}
	default: // FailureEscalate, or unset
		next := *state
		next.Status = domain.StatusEscalated
		next.CurrentStage = domain.StageTerminal
		return Delta{
			Exception:        &next,
			PlaybookProgress: progress,
			Events: []domain.Event{
				newEvent(next.ID(), "ExceptionEscalated", domain.ActorSystem, "step",
					map[string]any{"reason": "step_failure", "step_order": order}, 1),
			},
		}, nil
	}
}

func (Step) completeStep(state *domain.Exception, progress *domain.PlaybookProgress, def *domain.PlaybookDef, ev eventlog.Envelope, order int, notes string) (Delta, error) {
	sp := progress.StepAt(order)
	if sp == nil {
		return Delta{}, classify.Permanent{Err: fmt.Errorf("roles: step %d not declared in playbook %s", order, progress.PlaybookID)}
	}
	if sp.Status == domain.StepCompleted || sp.Status == domain.StepSkipped {
		return Delta{Exception: state, PlaybookProgress: progress}, nil
	}

	next := *progress
	next.Steps = append([]domain.StepProgress(nil), progress.Steps...)
	completed := next.StepAt(order)
	completed.Status = domain.StepCompleted
	completed.Notes = notes

	stepEvent := newEvent(state.ID(), "StepCompleted", domain.ActorSystem, "step",
		StepCompletedPayload{PlaybookID: progress.PlaybookID, StepOrder: order, Notes: notes}, 1)

	if order >= progress.TotalSteps {
		next.CurrentStep = order
		nextExc := *state
		nextExc.Status = domain.StatusResolved
		nextExc.CurrentStage = domain.StageFeedback
		donePayload := PlaybookCompletedPayload{PlaybookID: progress.PlaybookID}
		return Delta{
			Exception:        &nextExc,
			PlaybookProgress: &next,
			Events: []domain.Event{
				stepEvent,
				newEvent(nextExc.ID(), "PlaybookCompleted", domain.ActorSystem, "step", donePayload, 1),
			},
		}, nil
	}

	next.CurrentStep = order + 1
	nd := def.StepDefAt(order + 1)
	if nd == nil {
		return Delta{}, classify.ConfigMissing{Err: fmt.Errorf("roles: step %d missing from playbook definition", order+1)}
	}
	reqPayload := StepRequestedPayload{PlaybookID: progress.PlaybookID, StepOrder: nd.StepOrder, Name: nd.Name, ActionType: string(nd.ActionType), Config: nd.ActionConfig}

	return Delta{
		Exception:        state,
		PlaybookProgress: &next,
		Events: []domain.Event{
			stepEvent,
			newEvent(state.ID(), "StepRequested", domain.ActorSystem, "step", reqPayload, 1),
		},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicStepRequested,
			Envelope: nextEnvelope(ev, "StepRequested", reqPayload),
		}},
	}, nil
}
