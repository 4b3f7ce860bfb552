package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

func stepSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Playbooks: map[string]*domain.PlaybookDef{
			"pb-restart": {
				PlaybookID: "pb-restart",
				Version:    1,
				Steps: []domain.StepDef{
					{StepOrder: 1, Name: "restart-pod", ActionType: domain.ActionTool, ActionConfig: map[string]any{"tool_id": "kube-restart"}},
					{StepOrder: 2, Name: "notify-oncall", ActionType: domain.ActionHuman, FailurePolicy: domain.FailurePolicy{Kind: domain.FailureEscalate}},
				},
			},
		},
	}
}

func stepProgress() *domain.PlaybookProgress {
	return &domain.PlaybookProgress{
		TenantID: "t1", ExceptionID: "exc-1", PlaybookID: "pb-restart", PlaybookVersion: 1, TotalSteps: 2, CurrentStep: 1,
		Steps: []domain.StepProgress{
			{StepOrder: 1, Status: domain.StepPending},
			{StepOrder: 2, Status: domain.StepPending},
		},
	}
}

func stepException() *domain.Exception {
	pbID := "pb-restart"
	step1 := 1
	return &domain.Exception{
		TenantID: "t1", ExceptionID: "exc-1", CurrentStage: domain.StageStep,
		CurrentPlaybookID: &pbID, CurrentStep: &step1, Version: 5,
	}
}

func TestStepDispatchToolStepEmitsToolRequested(t *testing.T) {
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventType: "StepRequested",
		Payload: encodePayload(StepRequestedPayload{PlaybookID: "pb-restart", StepOrder: 1, ActionType: "tool", Config: map[string]any{"tool_id": "kube-restart"}})}

	delta, err := Step{}.Handle(context.Background(), stepException(), stepProgress(), ev, stepSnapshot())
	require.NoError(t, err)

	require.NotNil(t, delta.PlaybookProgress)
	assert.Equal(t, domain.StepInProgress, delta.PlaybookProgress.Steps[0].Status)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicToolRequested, delta.Outbound[0].Topic)
}

func TestStepDispatchHumanStepWaitsWithoutOutbound(t *testing.T) {
	progress := stepProgress()
	progress.Steps[0].Status = domain.StepCompleted
	progress.CurrentStep = 2
	exc := stepException()
	step2 := 2
	exc.CurrentStep = &step2

	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventType: "StepRequested",
		Payload: encodePayload(StepRequestedPayload{PlaybookID: "pb-restart", StepOrder: 2, ActionType: "human"})}

	delta, err := Step{}.Handle(context.Background(), exc, progress, ev, stepSnapshot())
	require.NoError(t, err)
	assert.Equal(t, domain.StepInProgress, delta.PlaybookProgress.Steps[1].Status)
	assert.Empty(t, delta.Outbound)
}

func TestStepOnToolCompletedAdvancesToNextStep(t *testing.T) {
	progress := stepProgress()
	progress.Steps[0].Status = domain.StepInProgress

	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventType: "ToolCompleted",
		Payload: encodePayload(ToolCompletedPayload{PlaybookID: "pb-restart", StepOrder: 1, Success: true})}

	delta, err := Step{}.Handle(context.Background(), stepException(), progress, ev, stepSnapshot())
	require.NoError(t, err)

	assert.Equal(t, domain.StepCompleted, delta.PlaybookProgress.Steps[0].Status)
	assert.Equal(t, 2, delta.PlaybookProgress.CurrentStep)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicStepRequested, delta.Outbound[0].Topic)
}

func TestStepOnToolFailureEscalatesPerPolicy(t *testing.T) {
	progress := stepProgress()
	progress.CurrentStep = 2
	progress.Steps[0].Status = domain.StepCompleted
	progress.Steps[1].Status = domain.StepInProgress
	exc := stepException()
	step2 := 2
	exc.CurrentStep = &step2

	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventType: "ToolCompleted",
		Payload: encodePayload(ToolCompletedPayload{PlaybookID: "pb-restart", StepOrder: 2, Success: false, ErrorMsg: "boom"})}

	delta, err := Step{}.Handle(context.Background(), exc, progress, ev, stepSnapshot())
	require.NoError(t, err)
	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.StatusEscalated, delta.Exception.Status)
	assert.Equal(t, domain.StageTerminal, delta.Exception.CurrentStage)
}

func TestStepCompleteLastStepResolvesException(t *testing.T) {
	progress := &domain.PlaybookProgress{
		TenantID: "t1", ExceptionID: "exc-1", PlaybookID: "pb-restart", PlaybookVersion: 1, TotalSteps: 1, CurrentStep: 1,
		Steps: []domain.StepProgress{{StepOrder: 1, Status: domain.StepInProgress}},
	}
	snap := &config.Snapshot{Playbooks: map[string]*domain.PlaybookDef{
		"pb-restart": {PlaybookID: "pb-restart", Version: 1, Steps: []domain.StepDef{{StepOrder: 1, Name: "only-step", ActionType: domain.ActionTool}}},
	}}
	exc := stepException()

	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventType: "ToolCompleted",
		Payload: encodePayload(ToolCompletedPayload{PlaybookID: "pb-restart", StepOrder: 1, Success: true})}

	delta, err := Step{}.Handle(context.Background(), exc, progress, ev, snap)
	require.NoError(t, err)
	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.StatusResolved, delta.Exception.Status)
	assert.Equal(t, domain.StageFeedback, delta.Exception.CurrentStage)
	assert.Empty(t, delta.Outbound)
}

func TestStepHandleNilProgressIsStalePrecondition(t *testing.T) {
	_, err := Step{}.Handle(context.Background(), stepException(), nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventType: "StepRequested"}, stepSnapshot())
	require.Error(t, err)
	assert.Equal(t, domain.ErrorStalePrecondition, classify.Kind(err))
}
