package roles

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

func triageSnapshot() *config.Snapshot {
	return &config.Snapshot{
		SLARules: []config.SLARuleYAML{
			{RuleID: "sla-default", When: `true`, DeadlineMins: 240, Priority: 0},
		},
	}
}

func TestTriageHandleNeverChangesSeverity(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", Severity: domain.SeverityMedium, CurrentStage: domain.StageTriage}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(NormalizedPayload{NormalizedPayload: json.RawMessage(`{}`)})}

	delta, err := Triage{}.Handle(context.Background(), exc, nil, ev, triageSnapshot())
	require.NoError(t, err)
	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.SeverityMedium, delta.Exception.Severity)
	assert.False(t, delta.Exception.SeverityOverridden)
	assert.Equal(t, domain.StagePolicy, delta.Exception.CurrentStage)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicTriageCompleted, delta.Outbound[0].Topic)
}

func TestTriageHandleSetsSLADeadlineFromSLATable(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", Severity: domain.SeverityHigh, CurrentStage: domain.StageTriage}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(NormalizedPayload{NormalizedPayload: json.RawMessage(`{}`)})}

	delta, err := Triage{}.Handle(context.Background(), exc, nil, ev, triageSnapshot())
	require.NoError(t, err)
	require.NotNil(t, delta.Exception.SLADeadline)
}

func TestTriageHandleNilConfigIsConfigMissing(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", CurrentStage: domain.StageTriage}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(NormalizedPayload{NormalizedPayload: json.RawMessage(`{}`)})}

	_, err := Triage{}.Handle(context.Background(), exc, nil, ev, nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorConfigMissing, classify.Kind(err))
}

func TestTriageHandleNilStateIsStalePrecondition(t *testing.T) {
	_, err := Triage{}.Handle(context.Background(), nil, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, triageSnapshot())
	require.Error(t, err)
}

func TestTriageHandleWrongStageReemits(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", CurrentStage: domain.StagePolicy}
	delta, err := Triage{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, nil)
	require.NoError(t, err)
	assert.Same(t, exc, delta.Exception)
	require.Len(t, delta.Outbound, 1)
}
