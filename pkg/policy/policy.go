// Package policy matches a normalized exception against a tenant's
// config.Snapshot: which playbook (if any) applies, and what SLA
// deadline governs it. Both are pure functions of the snapshot and the
// exception's normalized payload — no I/O, no clock reads beyond the
// caller-supplied "now," so they're safe to call from inside a retried
// handler invocation without side effects.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/policy/expr"
)

// ErrNoMatch means no policy rule's predicate matched the exception — the
// caller (the policy role handler) routes this to manual triage rather
// than an error; it is an ordinary, expected outcome, not a failure.
type ErrNoMatch struct{ TenantID, ExceptionID string }

func (e ErrNoMatch) Error() string {
	return fmt.Sprintf("policy: no rule matched exception %s/%s", e.TenantID, e.ExceptionID)
}

// Effect is the accumulated result of evaluating a policy pack against
// one exception: spec.md §4.4's declared effect fields
// `{severity, required_approvals, escalate, candidate_playbooks}`, plus
// reject for the state machine's policy-initiated CLOSED transition.
type Effect struct {
	RuleID            string
	PlaybookID        string
	SeverityOverride  domain.Severity
	RequiredApprovals []string
	Escalate          bool
	Reject            bool
}

// Evaluate walks every policy rule in snap, in descending priority order
// (ties broken by input order), folding the effects of every rule whose
// predicate is truthy against the exception's normalized payload into one
// Effect. Evaluation stops the moment a matching rule sets Escalate or
// Reject — §4.4: "short-circuits on first escalate" — since either is a
// terminal policy decision no later, lower-priority rule can override.
// Returns ErrNoMatch if no rule's predicate matched at all.
func Evaluate(snap *config.Snapshot, exc *domain.Exception, payload map[string]any) (Effect, error) {
	ctx := exceptionContext(exc, payload)

	rules := append([]config.PolicyYAML(nil), snap.Policies...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	var effect Effect
	matched := false
	for _, rule := range rules {
		ok, err := expr.Eval(rule.When, ctx)
		if err != nil {
			return Effect{}, fmt.Errorf("policy: rule %q: %w", rule.RuleID, err)
		}
		if !ok {
			continue
		}
		matched = true

		if rule.SeverityOverride != "" && effect.SeverityOverride == "" {
			effect.SeverityOverride = domain.Severity(rule.SeverityOverride)
		}
		if len(rule.RequiredApprovals) > 0 {
			effect.RequiredApprovals = append(effect.RequiredApprovals, rule.RequiredApprovals...)
		}
		if rule.PlaybookID != "" && effect.PlaybookID == "" {
			effect.PlaybookID = rule.PlaybookID
			effect.RuleID = rule.RuleID
		}

		if rule.Escalate {
			effect.Escalate = true
			effect.RuleID = rule.RuleID
			break
		}
		if rule.Reject {
			effect.Reject = true
			effect.RuleID = rule.RuleID
			break
		}
	}
	if !matched {
		return Effect{}, ErrNoMatch{TenantID: exc.TenantID, ExceptionID: exc.ExceptionID}
	}
	return effect, nil
}

// ResolvePlaybook looks up the playbook a matched policy rule names,
// within the same snapshot the rule came from — policies and playbooks
// are always resolved from one immutable snapshot together, never mixed
// across versions.
func ResolvePlaybook(snap *config.Snapshot, playbookID string) (*domain.PlaybookDef, error) {
	def, ok := snap.Playbooks[playbookID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrPlaybookNotFound, playbookID)
	}
	return def, nil
}

// SLADeadline evaluates the snapshot's SLA rules (same priority-order,
// first-match semantics as Match) and returns the deadline the matching
// rule implies, anchored at `from` (normally the exception's intake
// time).
func SLADeadline(snap *config.Snapshot, exc *domain.Exception, payload map[string]any, from time.Time) (time.Time, error) {
	ctx := exceptionContext(exc, payload)

	rules := append([]config.SLARuleYAML(nil), snap.SLARules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		ok, err := expr.Eval(rule.When, ctx)
		if err != nil {
			return time.Time{}, fmt.Errorf("policy: sla rule %q: %w", rule.RuleID, err)
		}
		if ok {
			return from.Add(time.Duration(rule.DeadlineMins) * time.Minute), nil
		}
	}
	return time.Time{}, fmt.Errorf("policy: no sla rule matched exception %s/%s", exc.TenantID, exc.ExceptionID)
}

// exceptionContext builds the expr.Context policy and SLA predicates
// evaluate against: the exception's own scalar fields under "exception."
// and the normalized payload's fields verbatim at the top level, so a
// rule can write either `severity == "HIGH"` or
// `exception.severity == "HIGH"`.
func exceptionContext(exc *domain.Exception, payload map[string]any) expr.MapContext {
	m := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		m[k] = v
	}
	m["exception"] = map[string]any{
		"severity":       string(exc.Severity),
		"source_system":  exc.SourceSystem,
		"domain":         exc.Domain,
		"exception_type": exc.ExceptionType,
		"status":         string(exc.Status),
	}
	m["severity"] = string(exc.Severity)
	m["source_system"] = exc.SourceSystem
	m["exception_type"] = exc.ExceptionType
	return expr.MapContext(m)
}
