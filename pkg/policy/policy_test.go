package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
)

func testSnapshot() *config.Snapshot {
	return &config.Snapshot{
		Policies: []config.PolicyYAML{
			{RuleID: "low-priority", When: `true`, PlaybookID: "generic", Priority: 0},
			{RuleID: "critical-payment", When: `severity == "CRITICAL" and domain_tag == "payments"`, PlaybookID: "escalate-payment", Priority: 10},
		},
		Playbooks: map[string]*domain.PlaybookDef{
			"generic":           {PlaybookID: "generic", Version: 1, Steps: []domain.StepDef{{StepOrder: 1, Name: "noop"}}},
			"escalate-payment":  {PlaybookID: "escalate-payment", Version: 1, Steps: []domain.StepDef{{StepOrder: 1, Name: "notify"}}},
		},
		SLARules: []config.SLARuleYAML{
			{RuleID: "default", When: "true", DeadlineMins: 60, Priority: -1},
			{RuleID: "critical", When: `severity == "CRITICAL"`, DeadlineMins: 15, Priority: 10},
		},
	}
}

func TestEvaluatePicksHighestPriorityMatch(t *testing.T) {
	snap := testSnapshot()
	exc := &domain.Exception{TenantID: "acme", ExceptionID: "exc-1", Severity: domain.SeverityCritical, Domain: "payments"}

	effect, err := Evaluate(snap, exc, map[string]any{"domain_tag": "payments"})
	require.NoError(t, err)
	assert.Equal(t, "escalate-payment", effect.PlaybookID)
}

func TestEvaluateFallsBackToLowerPriorityRule(t *testing.T) {
	snap := testSnapshot()
	exc := &domain.Exception{TenantID: "acme", ExceptionID: "exc-2", Severity: domain.SeverityLow, Domain: "payments"}

	effect, err := Evaluate(snap, exc, map[string]any{"domain_tag": "payments"})
	require.NoError(t, err)
	assert.Equal(t, "generic", effect.PlaybookID)
}

func TestEvaluateNoRuleMatches(t *testing.T) {
	snap := &config.Snapshot{}
	exc := &domain.Exception{TenantID: "acme", ExceptionID: "exc-3"}
	_, err := Evaluate(snap, exc, nil)
	assert.ErrorAs(t, err, &ErrNoMatch{})
}

func TestEvaluateShortCircuitsOnFirstEscalate(t *testing.T) {
	snap := &config.Snapshot{
		Policies: []config.PolicyYAML{
			{RuleID: "high-value", When: `amount > 1000000`, Escalate: true, Priority: 10},
			{RuleID: "fallback", When: `true`, PlaybookID: "generic", Priority: 0},
		},
	}
	exc := &domain.Exception{TenantID: "acme", ExceptionID: "exc-5", ExceptionType: "POSITION_BREAK"}

	effect, err := Evaluate(snap, exc, map[string]any{"amount": float64(5000000)})
	require.NoError(t, err)
	assert.True(t, effect.Escalate)
	assert.Equal(t, "high-value", effect.RuleID)
	assert.Empty(t, effect.PlaybookID, "a lower-priority rule's playbook must not surface once escalate short-circuits")
}

func TestEvaluateAccumulatesRequiredApprovalsAcrossRules(t *testing.T) {
	snap := &config.Snapshot{
		Policies: []config.PolicyYAML{
			{RuleID: "needs-risk", When: `true`, RequiredApprovals: []string{"risk-manager"}, Priority: 10},
			{RuleID: "needs-compliance", When: `true`, RequiredApprovals: []string{"compliance"}, Priority: 5},
		},
	}
	exc := &domain.Exception{TenantID: "acme", ExceptionID: "exc-6"}

	effect, err := Evaluate(snap, exc, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"risk-manager", "compliance"}, effect.RequiredApprovals)
}

func TestSLADeadlinePicksMatchingRule(t *testing.T) {
	snap := testSnapshot()
	exc := &domain.Exception{TenantID: "acme", ExceptionID: "exc-4", Severity: domain.SeverityCritical}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	deadline, err := SLADeadline(snap, exc, nil, from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), deadline)
}

func TestResolvePlaybookMissing(t *testing.T) {
	snap := testSnapshot()
	_, err := ResolvePlaybook(snap, "does-not-exist")
	assert.ErrorIs(t, err, config.ErrPlaybookNotFound)
}
