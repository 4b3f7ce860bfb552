package domain

import "time"

// StepStatus is the status of one playbook step for one exception.
type StepStatus string

// StepStatus values.
const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// StepProgress is the per-step state inside a PlaybookProgress.
type StepProgress struct {
	StepOrder   int
	Status      StepStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       string
}

// PlaybookProgress is the child of an Exception tracking progress through
// a matched playbook. At most one step is in_progress at a time; step k
// may leave "pending" only once step k-1 is completed or skipped.
type PlaybookProgress struct {
	TenantID       string
	ExceptionID    string
	PlaybookID     string
	PlaybookVersion int
	TotalSteps     int
	CurrentStep    int
	Steps          []StepProgress
}

// StepAt returns the step progress for the given 1-based step order, or
// nil if out of range.
func (p *PlaybookProgress) StepAt(order int) *StepProgress {
	for i := range p.Steps {
		if p.Steps[i].StepOrder == order {
			return &p.Steps[i]
		}
	}
	return nil
}

// CanAdvance reports whether step `order` may leave "pending": the
// previous step (order-1) must be completed or skipped, or this is step 1.
func (p *PlaybookProgress) CanAdvance(order int) bool {
	if order <= 1 {
		return true
	}
	prev := p.StepAt(order - 1)
	if prev == nil {
		return false
	}
	return prev.Status == StepCompleted || prev.Status == StepSkipped
}

// ActionType is the kind of action a playbook step declares.
type ActionType string

// ActionType values.
const (
	ActionTool     ActionType = "tool"
	ActionHuman    ActionType = "human"
	ActionDecision ActionType = "decision"
)

// FailurePolicyKind is how a step responds to a failed tool execution.
type FailurePolicyKind string

// FailurePolicyKind values.
const (
	FailureRetry    FailurePolicyKind = "retry"
	FailureSkip     FailurePolicyKind = "skip"
	FailureEscalate FailurePolicyKind = "escalate"
)

// FailurePolicy declares how a step handles a failed tool execution.
type FailurePolicy struct {
	Kind       FailurePolicyKind
	MaxRetries int // only meaningful when Kind == FailureRetry
}

// StepDef is one step in an immutable PlaybookDef.
type StepDef struct {
	StepOrder     int
	Name          string
	ActionType    ActionType
	ActionConfig  map[string]any
	FailurePolicy FailurePolicy
}

// PlaybookDef is the immutable, versioned playbook value the Config
// Registry resolves. (playbook_id, version) is immutable; edits require a
// new version.
type PlaybookDef struct {
	PlaybookID string
	Version    int
	Steps      []StepDef
}

// TotalSteps returns the number of steps in the playbook.
func (p *PlaybookDef) TotalSteps() int { return len(p.Steps) }

// StepDefAt returns the step definition for a 1-based step order.
func (p *PlaybookDef) StepDefAt(order int) *StepDef {
	for i := range p.Steps {
		if p.Steps[i].StepOrder == order {
			return &p.Steps[i]
		}
	}
	return nil
}
