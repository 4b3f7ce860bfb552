package api

// Health status strings used by HealthResponse.Status.
const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ExceptionSubmittedResponse is returned by POST /api/v1/exceptions.
type ExceptionSubmittedResponse struct {
	ExceptionID string `json:"exception_id"`
	Status      string `json:"status"`
}

// ExceptionResponse is returned by GET /api/v1/exceptions/:id: the
// exception's current state plus its timeline, playbook progress, and
// recorded tool executions, for an operator inspecting a case.
type ExceptionResponse struct {
	TenantID          string               `json:"tenant_id"`
	ExceptionID       string               `json:"exception_id"`
	SourceSystem      string               `json:"source_system"`
	Domain            string               `json:"domain"`
	ExceptionType     string               `json:"exception_type"`
	Severity          string               `json:"severity"`
	Status            string               `json:"status"`
	CurrentStage      string               `json:"current_stage"`
	CurrentPlaybookID *string              `json:"current_playbook_id,omitempty"`
	CurrentStep       *int                 `json:"current_step,omitempty"`
	Version           int64                `json:"version"`
	Events            []EventView          `json:"events"`
	PlaybookProgress  *PlaybookProgressView `json:"playbook_progress,omitempty"`
	ToolExecutions    []ToolExecutionView  `json:"tool_executions"`
}

// EventView is one entry of an exception's timeline.
type EventView struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at"`
}

// PlaybookProgressView summarizes a matched playbook's step progress.
type PlaybookProgressView struct {
	PlaybookID      string             `json:"playbook_id"`
	PlaybookVersion int                `json:"playbook_version"`
	TotalSteps      int                `json:"total_steps"`
	CurrentStep     int                `json:"current_step"`
	Steps           []StepProgressView `json:"steps"`
}

// StepProgressView is one playbook step's recorded status.
type StepProgressView struct {
	StepOrder int    `json:"step_order"`
	Status    string `json:"status"`
}

// ToolExecutionView is one recorded tool invocation.
type ToolExecutionView struct {
	ExecutionID string `json:"execution_id"`
	StepOrder   int    `json:"step_order"`
	ToolID      string `json:"tool_id"`
	Status      string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// FeedbackAcceptedResponse is returned by POST /api/v1/exceptions/:id/feedback.
type FeedbackAcceptedResponse struct {
	ExceptionID string `json:"exception_id"`
	Verdict     string `json:"verdict"`
}

// StepCompletedResponse is returned by POST /api/v1/exceptions/:id/steps/:order/complete.
type StepCompletedResponse struct {
	ExceptionID string `json:"exception_id"`
	StepOrder   int    `json:"step_order"`
}
