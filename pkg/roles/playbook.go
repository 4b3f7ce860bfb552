package roles

import (
	"context"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/policy"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// PlaybookMatchedPayload is the playbook.matched envelope's payload.
type PlaybookMatchedPayload struct {
	PlaybookID      string `json:"playbook_id"`
	PlaybookVersion int    `json:"playbook_version"`
	TotalSteps      int    `json:"total_steps"`
}

// StepRequestedPayload is the step.requested envelope's payload.
type StepRequestedPayload struct {
	PlaybookID string         `json:"playbook_id"`
	StepOrder  int            `json:"step_order"`
	Name       string         `json:"name"`
	ActionType string         `json:"action_type"`
	Config     map[string]any `json:"action_config"`
}

// Playbook implements the playbook role: it resolves the playbook the
// policy stage selected, creates the PlaybookProgress row with every step
// pending, and kicks off step 1.
type Playbook struct{}

// Role implements Handler.
func (Playbook) Role() string { return "playbook" }

// Handle implements Handler.
func (Playbook) Handle(_ context.Context, state *domain.Exception, progress *domain.PlaybookProgress, ev eventlog.Envelope, cfg *config.Snapshot) (Delta, error) {
	if state == nil {
		return Delta{}, classify.StalePrecondition{Err: errExceptionNotFound(ev.ExceptionID)}
	}
	if state.CurrentStage != domain.StagePlaybook {
		return Delta{Exception: state}, nil
	}
	if cfg == nil {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	var in PolicyCompletedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}
	if in.PlaybookID == "" {
		return Delta{}, classify.Permanent{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	def, err := policy.ResolvePlaybook(cfg, in.PlaybookID)
	if err != nil {
		return Delta{}, classify.ConfigMissing{Err: err}
	}

	next := *state
	next.CurrentPlaybookID = &def.PlaybookID
	step1 := 1
	next.CurrentStep = &step1
	next.CurrentStage = domain.StageStep

	newProgress := &domain.PlaybookProgress{
		TenantID:        state.TenantID,
		ExceptionID:     state.ExceptionID,
		PlaybookID:      def.PlaybookID,
		PlaybookVersion: def.Version,
		TotalSteps:      def.TotalSteps(),
		CurrentStep:     1,
	}
	for _, s := range def.Steps {
		newProgress.Steps = append(newProgress.Steps, domain.StepProgress{StepOrder: s.StepOrder, Status: domain.StepPending})
	}

	first := def.StepDefAt(1)
	if first == nil {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	matchedPayload := PlaybookMatchedPayload{PlaybookID: def.PlaybookID, PlaybookVersion: def.Version, TotalSteps: def.TotalSteps()}
	stepPayload := StepRequestedPayload{
		PlaybookID: def.PlaybookID,
		StepOrder:  first.StepOrder,
		Name:       first.Name,
		ActionType: string(first.ActionType),
		Config:     first.ActionConfig,
	}

	return Delta{
		Exception:        &next,
		PlaybookProgress: newProgress,
		Events: []domain.Event{
			newEvent(next.ID(), "PlaybookMatched", domain.ActorSystem, "playbook", matchedPayload, 1),
			newEvent(next.ID(), "StepRequested", domain.ActorSystem, "playbook", stepPayload, 1),
		},
		Outbound: []store.OutboundEnvelope{
			{Topic: eventlog.TopicPlaybookMatched, Envelope: nextEnvelope(ev, "PlaybookMatched", matchedPayload)},
			{Topic: eventlog.TopicStepRequested, Envelope: nextEnvelope(ev, "StepRequested", stepPayload)},
		},
	}, nil
}
