// Package domain holds the core aggregate types the processing pipeline
// operates on: Exception, Event, PlaybookProgress and ToolExecution.
// These are plain value types — persistence lives in pkg/store, wire
// encoding lives in pkg/eventlog.
package domain

import "time"

// Severity is the business severity of an Exception.
type Severity string

// Severity values, ordered low to high.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Status is the lifecycle status of an Exception.
type Status string

// Status values per spec.md §3's state machine.
const (
	StatusOpen             Status = "OPEN"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusPendingApproval  Status = "PENDING_APPROVAL"
	StatusResolved         Status = "RESOLVED"
	StatusEscalated        Status = "ESCALATED"
	StatusClosed           Status = "CLOSED"
)

// Stage is a pipeline position. Stages are ordered; current_stage is
// monotone except for explicit operator reopen.
type Stage string

// Stage values, in pipeline order.
const (
	StageIntake   Stage = "intake"
	StageTriage   Stage = "triage"
	StagePolicy   Stage = "policy"
	StagePlaybook Stage = "playbook"
	StageStep     Stage = "step"
	StageFeedback Stage = "feedback"
	StageTerminal Stage = "terminal"
)

// stageOrder gives each stage a monotone rank for P1 (monotone stage).
var stageOrder = map[Stage]int{
	StageIntake:   0,
	StageTriage:   1,
	StagePolicy:   2,
	StagePlaybook: 3,
	StageStep:     4,
	StageFeedback: 5,
	StageTerminal: 6,
}

// Before reports whether s precedes other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}

// Exception is the primary aggregate: a business-level failure record.
type Exception struct {
	TenantID           string
	ExceptionID        string
	SourceSystem       string
	Domain             string
	ExceptionType      string
	Severity           Severity
	SeverityOverridden bool
	Status             Status
	RawPayload         []byte // opaque JSON from the source system
	NormalizedPayload  []byte // domain-validated JSON
	CurrentStage       Stage
	CurrentPlaybookID  *string
	CurrentStep        *int
	SLADeadline        *time.Time
	LastSLAEmitted     *string // "imminent" or "expired", for dedup
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64 // monotonic, CAS target
}

// Identity is the (tenant_id, exception_id) key every other aggregate carries.
type Identity struct {
	TenantID    string
	ExceptionID string
}

// ID returns the identity of the exception.
func (e *Exception) ID() Identity {
	return Identity{TenantID: e.TenantID, ExceptionID: e.ExceptionID}
}

// IsTerminal reports whether the exception has reached a status with no
// further automated transitions.
func (e *Exception) IsTerminal() bool {
	switch e.Status {
	case StatusResolved, StatusClosed:
		return true
	case StatusEscalated:
		return e.CurrentStage == StageTerminal
	default:
		return false
	}
}
