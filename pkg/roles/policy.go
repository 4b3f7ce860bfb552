package roles

import (
	"context"
	"encoding/json"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/policy"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// PolicyCompletedPayload is the policy.completed envelope's payload:
// either the playbook_id a policy rule selected, or the escalate/reject/
// required-approvals disposition that routed the exception away from
// automated playbook selection.
type PolicyCompletedPayload struct {
	RuleID             string   `json:"rule_id,omitempty"`
	PlaybookID         string   `json:"playbook_id,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	SeverityOverridden bool     `json:"severity_overridden,omitempty"`
	RequiredApprovals  []string `json:"required_approvals,omitempty"`
	Escalated          bool     `json:"escalated,omitempty"`
	Rejected           bool     `json:"rejected,omitempty"`
}

// Policy implements the policy role: it evaluates the tenant's policy
// rules against the triaged exception and either selects a playbook,
// escalates, rejects, or routes to manual approval.
type Policy struct{}

// Role implements Handler.
func (Policy) Role() string { return "policy" }

// Handle implements Handler.
func (Policy) Handle(_ context.Context, state *domain.Exception, _ *domain.PlaybookProgress, ev eventlog.Envelope, cfg *config.Snapshot) (Delta, error) {
	if state == nil {
		return Delta{}, classify.StalePrecondition{Err: errExceptionNotFound(ev.ExceptionID)}
	}
	if state.CurrentStage != domain.StagePolicy {
		return Delta{Exception: state}, nil
	}
	if cfg == nil {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	var payload map[string]any
	_ = json.Unmarshal(state.NormalizedPayload, &payload)

	next := *state

	effect, err := policy.Evaluate(cfg, state, payload)
	if err != nil {
		// No policy matched: not an error condition, route for manual
		// triage rather than retrying or DLQ'ing. SLA timer (set by
		// triage) stays armed.
		next.Status = domain.StatusPendingApproval
		next.CurrentStage = domain.StageTerminal
		return Delta{
			Exception: &next,
			Events: []domain.Event{
				newEvent(next.ID(), "PolicyCompleted", domain.ActorSystem, "policy", PolicyCompletedPayload{}, 1),
			},
		}, nil
	}

	// Severity override is a policy decision applied at most once per
	// exception, auditable via SeverityOverridden on the timeline event.
	if effect.SeverityOverride != "" && !next.SeverityOverridden && effect.SeverityOverride != next.Severity {
		next.Severity = effect.SeverityOverride
		next.SeverityOverridden = true
	}

	payloadOut := PolicyCompletedPayload{
		RuleID:             effect.RuleID,
		Severity:           string(next.Severity),
		SeverityOverridden: next.SeverityOverridden,
	}

	switch {
	case effect.Escalate:
		// §4.3: "If escalation is required, sets status = ESCALATED and
		// does NOT emit playbook.*." SLA timer stays armed: CurrentStage
		// and SLADeadline are both left as triage set them, only Status
		// and the terminal marker change.
		next.Status = domain.StatusEscalated
		next.CurrentStage = domain.StageTerminal
		payloadOut.Escalated = true
		return Delta{
			Exception: &next,
			Events: []domain.Event{
				newEvent(next.ID(), "PolicyCompleted", domain.ActorSystem, "policy", payloadOut, 1),
			},
		}, nil

	case effect.Reject:
		next.Status = domain.StatusClosed
		next.CurrentStage = domain.StageTerminal
		payloadOut.Rejected = true
		return Delta{
			Exception: &next,
			Events: []domain.Event{
				newEvent(next.ID(), "PolicyCompleted", domain.ActorSystem, "policy", payloadOut, 1),
			},
		}, nil

	case len(effect.RequiredApprovals) > 0:
		next.Status = domain.StatusPendingApproval
		next.CurrentStage = domain.StageTerminal
		payloadOut.RequiredApprovals = effect.RequiredApprovals
		return Delta{
			Exception: &next,
			Events: []domain.Event{
				newEvent(next.ID(), "PolicyCompleted", domain.ActorSystem, "policy", payloadOut, 1),
			},
		}, nil
	}

	next.CurrentPlaybookID = &effect.PlaybookID
	next.CurrentStage = domain.StagePlaybook
	next.Status = domain.StatusInProgress
	payloadOut.PlaybookID = effect.PlaybookID

	return Delta{
		Exception: &next,
		Events: []domain.Event{
			newEvent(next.ID(), "PolicyCompleted", domain.ActorSystem, "policy", payloadOut, 1),
		},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicPolicyCompleted,
			Envelope: nextEnvelope(ev, "PolicyCompleted", payloadOut),
		}},
	}, nil
}
