package config

import "github.com/codeready-toolchain/excproc/pkg/domain"

// Pack is the on-disk (YAML) document shape for one tenant/domain config
// pack: tarsy's tarsy.yaml generalized from agent/chain/mcp-server
// definitions to policy rules, playbook catalogs, and the SLA table.
type Pack struct {
	Domain    string          `yaml:"domain" validate:"required"`
	Policies  []PolicyYAML    `yaml:"policies"`
	Playbooks []PlaybookYAML  `yaml:"playbooks"`
	SLARules  []SLARuleYAML   `yaml:"sla_rules"`
	Tools     []ToolYAML      `yaml:"tools"`
}

// PolicyYAML is one ranked policy rule: when `When` evaluates truthy
// against the normalized exception payload, its effect fields apply,
// ordered by Priority (higher wins ties broken by rule order). A rule may
// carry any combination of effects; PlaybookID alone is the common case,
// Escalate/Reject/RequiredApprovals/SeverityOverride are spec.md §4.4's
// policy-pack effect set (`{severity, required_approvals, escalate,
// candidate_playbooks}`, reject added for the state machine's CLOSED-by-
// policy transition).
type PolicyYAML struct {
	RuleID     string `yaml:"rule_id" validate:"required"`
	When       string `yaml:"when" validate:"required"`
	PlaybookID string `yaml:"playbook_id,omitempty"`
	Priority   int    `yaml:"priority"`

	// SeverityOverride, if set, replaces the exception's severity. Applied
	// at most once per exception (domain.Exception.SeverityOverridden
	// guards re-application on a redelivered or reopened evaluation).
	SeverityOverride string `yaml:"severity_override,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`

	// RequiredApprovals names the approver role(s) this rule requires
	// before automated processing may continue; a non-empty list routes
	// the exception to PENDING_APPROVAL instead of a playbook.
	RequiredApprovals []string `yaml:"required_approvals,omitempty"`

	// Escalate routes the exception straight to ESCALATED and stops rule
	// evaluation (§4.4: "short-circuits on first escalate"); no
	// playbook.* is ever emitted for this exception's policy decision.
	Escalate bool `yaml:"escalate,omitempty"`

	// Reject routes the exception straight to CLOSED and stops rule
	// evaluation, per the state machine's "(policy rejects) → CLOSED".
	Reject bool `yaml:"reject,omitempty"`
}

// PlaybookYAML is one playbook's step catalog.
type PlaybookYAML struct {
	PlaybookID string      `yaml:"playbook_id" validate:"required"`
	Version    int         `yaml:"version" validate:"required,min=1"`
	Steps      []StepYAML  `yaml:"steps" validate:"required,min=1,dive"`
}

// StepYAML is one step definition inside a playbook.
type StepYAML struct {
	StepOrder        int            `yaml:"step_order" validate:"required,min=1"`
	Name             string         `yaml:"name" validate:"required"`
	ActionType       string         `yaml:"action_type" validate:"required,oneof=tool human decision"`
	ActionConfig     map[string]any `yaml:"action_config"`
	OnFailure        string         `yaml:"on_failure" validate:"omitempty,oneof=retry skip escalate"`
	MaxRetries       int            `yaml:"max_retries" validate:"omitempty,min=0"`
}

// SLARuleYAML maps a matching predicate to an SLA deadline offset, in
// minutes from intake.
type SLARuleYAML struct {
	RuleID       string `yaml:"rule_id" validate:"required"`
	When         string `yaml:"when" validate:"required"`
	DeadlineMins int    `yaml:"deadline_minutes" validate:"required,min=1"`
	Priority     int    `yaml:"priority"`
}

// ToolYAML declares a tool the Tool role may invoke, and how to reach it.
// One entry is one MCP server exposing exactly the tool named ToolName
// (defaulting to ToolID) — generalizing tarsy's multi-tool-per-server MCP
// registry down to the single declared effector spec.md's Tool handler
// calls by `(exception_id, step_order, tool_id)`.
type ToolYAML struct {
	ToolID    string            `yaml:"tool_id" validate:"required"`
	ToolName  string            `yaml:"tool_name,omitempty"`
	Transport string            `yaml:"transport" validate:"required,oneof=stdio http sse"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	BearerToken string          `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool           `yaml:"verify_ssl,omitempty"`
	TimeoutSecs int             `yaml:"timeout_seconds,omitempty"`
}

// Snapshot is the resolved, validated, immutable configuration a single
// handler invocation resolves once and reuses for its duration (spec.md
// §5's "config snapshots are cached per process with a TTL").
type Snapshot struct {
	ID        domain.SnapshotID
	Policies  []PolicyYAML
	Playbooks map[string]*domain.PlaybookDef // keyed by playbook_id, latest version only
	SLARules  []SLARuleYAML
	Tools     map[string]ToolYAML
}

// ToDomainPlaybooks converts the pack's PlaybookYAML entries into
// domain.PlaybookDef, keeping only the highest version per playbook_id —
// (playbook_id, version) is immutable, so a higher version always
// supersedes rather than conflicting.
func ToDomainPlaybooks(entries []PlaybookYAML) map[string]*domain.PlaybookDef {
	out := make(map[string]*domain.PlaybookDef)
	for _, e := range entries {
		def := &domain.PlaybookDef{PlaybookID: e.PlaybookID, Version: e.Version}
		for _, s := range e.Steps {
			def.Steps = append(def.Steps, domain.StepDef{
				StepOrder:   s.StepOrder,
				Name:        s.Name,
				ActionType:  domain.ActionType(s.ActionType),
				ActionConfig: s.ActionConfig,
				FailurePolicy: domain.FailurePolicy{
					Kind:       domain.FailurePolicyKind(defaultString(s.OnFailure, "escalate")),
					MaxRetries: s.MaxRetries,
				},
			})
		}
		if existing, ok := out[e.PlaybookID]; !ok || def.Version > existing.Version {
			out[e.PlaybookID] = def
		}
	}
	return out
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
