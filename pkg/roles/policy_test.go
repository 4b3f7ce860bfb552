package roles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Policies: []config.PolicyYAML{
			{RuleID: "r-high", When: `severity == "HIGH"`, PlaybookID: "pb-restart", Priority: 10},
			{RuleID: "r-default", When: `true`, PlaybookID: "pb-default", Priority: 0},
		},
		SLARules: []config.SLARuleYAML{
			{RuleID: "sla-high", When: `severity == "HIGH"`, DeadlineMins: 30, Priority: 10},
			{RuleID: "sla-default", When: `true`, DeadlineMins: 240, Priority: 0},
		},
		Playbooks: map[string]*domain.PlaybookDef{},
	}
}

func baseException() *domain.Exception {
	deadline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Exception{
		TenantID:          "t1",
		ExceptionID:       "exc-1",
		Severity:          domain.SeverityHigh,
		Status:            domain.StatusOpen,
		CurrentStage:      domain.StagePolicy,
		NormalizedPayload: []byte(`{}`),
		SLADeadline:       &deadline, // set by triage, one stage earlier
		Version:           3,
	}
}

func TestPolicyHandleMatchesHighestPriorityRule(t *testing.T) {
	exc := baseException()
	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, testSnapshot())
	require.NoError(t, err)

	require.NotNil(t, delta.Exception)
	assert.Equal(t, "pb-restart", *delta.Exception.CurrentPlaybookID)
	assert.Equal(t, domain.StagePlaybook, delta.Exception.CurrentStage)
	assert.Equal(t, domain.StatusInProgress, delta.Exception.Status)
	require.NotNil(t, delta.Exception.SLADeadline)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicPolicyCompleted, delta.Outbound[0].Topic)
	require.Len(t, delta.Events, 1)
}

func TestPolicyHandleNoMatchRoutesToPendingApproval(t *testing.T) {
	exc := baseException()
	exc.Severity = domain.SeverityLow
	snap := testSnapshot()
	snap.Policies = []config.PolicyYAML{{RuleID: "only-high", When: `severity == "HIGH"`, PlaybookID: "pb-restart", Priority: 10}}

	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, snap)
	require.NoError(t, err)

	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.StatusPendingApproval, delta.Exception.Status)
	assert.Equal(t, domain.StageTerminal, delta.Exception.CurrentStage)
	assert.Empty(t, delta.Outbound)
}

func TestPolicyHandleEscalatesAndEmitsNoPlaybookEvent(t *testing.T) {
	exc := baseException()
	snap := testSnapshot()
	snap.Policies = []config.PolicyYAML{
		{RuleID: "big-position-break", When: `amount > 1000000`, Escalate: true, Priority: 10},
		{RuleID: "default", When: `true`, PlaybookID: "pb-default", Priority: 0},
	}
	exc.NormalizedPayload = []byte(`{"amount": 5000000}`)

	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, snap)
	require.NoError(t, err)

	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.StatusEscalated, delta.Exception.Status)
	assert.Equal(t, domain.StageTerminal, delta.Exception.CurrentStage)
	assert.Nil(t, delta.Exception.CurrentPlaybookID)
	assert.NotNil(t, delta.Exception.SLADeadline, "SLA timer stays armed on escalation")
	assert.Empty(t, delta.Outbound, "policy must not emit playbook.* when it escalates")
	require.Len(t, delta.Events, 1)
}

func TestPolicyHandleRejectsAndClosesException(t *testing.T) {
	exc := baseException()
	snap := testSnapshot()
	snap.Policies = []config.PolicyYAML{{RuleID: "duplicate", When: `true`, Reject: true, Priority: 10}}

	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, snap)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, delta.Exception.Status)
	assert.Equal(t, domain.StageTerminal, delta.Exception.CurrentStage)
	assert.Empty(t, delta.Outbound)
}

func TestPolicyHandleRequiredApprovalsRoutesToPendingApproval(t *testing.T) {
	exc := baseException()
	snap := testSnapshot()
	snap.Policies = []config.PolicyYAML{{RuleID: "needs-sign-off", When: `true`, RequiredApprovals: []string{"risk-manager"}, Priority: 10}}

	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, snap)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, delta.Exception.Status)
	assert.Nil(t, delta.Exception.CurrentPlaybookID)
	assert.Empty(t, delta.Outbound)
}

func TestPolicyHandleAppliesSeverityOverrideOnce(t *testing.T) {
	exc := baseException()
	exc.Severity = domain.SeverityLow
	snap := testSnapshot()
	snap.Policies = []config.PolicyYAML{{RuleID: "bump", When: `true`, SeverityOverride: "CRITICAL", PlaybookID: "pb-default", Priority: 10}}

	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, snap)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, delta.Exception.Severity)
	assert.True(t, delta.Exception.SeverityOverridden)

	// A second evaluation (e.g. a reopen) must not re-apply the override.
	already := *delta.Exception
	already.CurrentStage = domain.StagePolicy
	already.Severity = domain.SeverityMedium
	already.SeverityOverridden = true
	delta2, err := Policy{}.Handle(context.Background(), &already, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, snap)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMedium, delta2.Exception.Severity)
}

func TestPolicyHandleNilStateIsStalePrecondition(t *testing.T) {
	_, err := Policy{}.Handle(context.Background(), nil, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, testSnapshot())
	require.Error(t, err)
	assert.Equal(t, domain.ErrorStalePrecondition, classify.Kind(err))
}

func TestPolicyHandleWrongStagePassesThrough(t *testing.T) {
	exc := baseException()
	exc.CurrentStage = domain.StageStep
	delta, err := Policy{}.Handle(context.Background(), exc, nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, testSnapshot())
	require.NoError(t, err)
	assert.Same(t, exc, delta.Exception)
}

func TestPolicyHandleNilConfigIsConfigMissing(t *testing.T) {
	_, err := Policy{}.Handle(context.Background(), baseException(), nil, eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}, nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorConfigMissing, classify.Kind(err))
}
