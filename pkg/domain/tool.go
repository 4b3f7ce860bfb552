package domain

import (
	"strconv"
	"time"
)

// ToolExecutionStatus is the lifecycle status of a ToolExecution.
type ToolExecutionStatus string

// ToolExecutionStatus values. Terminal statuses (succeeded, failed) are
// write-once.
const (
	ToolRequested ToolExecutionStatus = "requested"
	ToolRunning   ToolExecutionStatus = "running"
	ToolSucceeded ToolExecutionStatus = "succeeded"
	ToolFailed    ToolExecutionStatus = "failed"
)

// ToolExecution is a child of a playbook step (or of an Exception directly
// for ad hoc actions) recording one invocation of an external effector.
type ToolExecution struct {
	TenantID        string
	ExceptionID     string
	ExecutionID     string
	StepOrder       int // 0 for ad hoc (not tied to a playbook step)
	ToolID          string
	RequestedByType ActorType
	RequestedByID   string
	InputPayload    []byte
	OutputPayload   []byte
	Status          ToolExecutionStatus
	ErrorMessage    string
	RequestedAt     time.Time
	CompletedAt     *time.Time
}

// IdempotencyKey derives the declared idempotency key for a tool
// execution: (exception_id, step_order, tool_id), per spec.md §4.3.
func (t *ToolExecution) IdempotencyKey() string {
	return t.ExceptionID + ":" + strconv.Itoa(t.StepOrder) + ":" + t.ToolID
}
