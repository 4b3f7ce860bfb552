package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

func playbookSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Playbooks: map[string]*domain.PlaybookDef{
			"pb-restart": {
				PlaybookID: "pb-restart",
				Version:    2,
				Steps: []domain.StepDef{
					{StepOrder: 1, Name: "restart-pod", ActionType: domain.ActionTool, ActionConfig: map[string]any{"tool_id": "kube-restart"}},
					{StepOrder: 2, Name: "verify-health", ActionType: domain.ActionTool, ActionConfig: map[string]any{"tool_id": "health-check"}},
				},
			},
		},
	}
}

func TestPlaybookHandleCreatesProgressAndRequestsFirstStep(t *testing.T) {
	playbookID := "pb-restart"
	exc := &domain.Exception{
		TenantID: "t1", ExceptionID: "exc-1",
		CurrentStage: domain.StagePlaybook, CurrentPlaybookID: &playbookID,
		Version: 4,
	}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(PolicyCompletedPayload{PlaybookID: "pb-restart"})}

	delta, err := Playbook{}.Handle(context.Background(), exc, nil, ev, playbookSnapshot())
	require.NoError(t, err)

	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.StageStep, delta.Exception.CurrentStage)
	require.NotNil(t, delta.Exception.CurrentStep)
	assert.Equal(t, 1, *delta.Exception.CurrentStep)

	require.NotNil(t, delta.PlaybookProgress)
	assert.Equal(t, 2, delta.PlaybookProgress.TotalSteps)
	assert.Equal(t, 2, len(delta.PlaybookProgress.Steps))
	assert.Equal(t, domain.StepPending, delta.PlaybookProgress.Steps[0].Status)

	require.Len(t, delta.Outbound, 2)
	assert.Equal(t, eventlog.TopicPlaybookMatched, delta.Outbound[0].Topic)
	assert.Equal(t, eventlog.TopicStepRequested, delta.Outbound[1].Topic)
}

func TestPlaybookHandleUnknownPlaybookIsConfigMissing(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", CurrentStage: domain.StagePlaybook}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(PolicyCompletedPayload{PlaybookID: "does-not-exist"})}

	_, err := Playbook{}.Handle(context.Background(), exc, nil, ev, playbookSnapshot())
	require.Error(t, err)
}

func TestPlaybookHandleWrongStagePassesThrough(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", CurrentStage: domain.StageTriage}
	delta, err := Playbook{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, playbookSnapshot())
	require.NoError(t, err)
	assert.Same(t, exc, delta.Exception)
}
