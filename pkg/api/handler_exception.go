package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// getExceptionHandler handles GET /api/v1/exceptions/:id: an operator's
// read of one exception's current state, timeline, playbook progress,
// and recorded tool executions.
func (s *Server) getExceptionHandler(c *echo.Context) error {
	tenantID, err := extractTenantID(c)
	if err != nil {
		return err
	}
	id := domain.Identity{TenantID: tenantID, ExceptionID: c.Param("id")}
	ctx := tenant.WithTenant(c.Request().Context(), tenantID)

	exc, err := s.store.GetException(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}

	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	progress, err := s.store.GetPlaybookProgress(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}
	executions, err := s.store.ListToolExecutions(ctx, id)
	if err != nil {
		return mapStoreError(err)
	}

	resp := &ExceptionResponse{
		TenantID:          exc.TenantID,
		ExceptionID:       exc.ExceptionID,
		SourceSystem:      exc.SourceSystem,
		Domain:            exc.Domain,
		ExceptionType:     exc.ExceptionType,
		Severity:          string(exc.Severity),
		Status:            string(exc.Status),
		CurrentStage:      string(exc.CurrentStage),
		CurrentPlaybookID: exc.CurrentPlaybookID,
		CurrentStep:       exc.CurrentStep,
		Version:           exc.Version,
		Events:            make([]EventView, 0, len(events)),
		ToolExecutions:    make([]ToolExecutionView, 0, len(executions)),
	}
	for _, ev := range events {
		resp.Events = append(resp.Events, EventView{
			EventID:   ev.EventID,
			EventType: ev.EventType,
			ActorType: string(ev.ActorType),
			ActorID:   ev.ActorID,
			CreatedAt: ev.CreatedAt.Format(http.TimeFormat),
		})
	}
	if progress != nil {
		steps := make([]StepProgressView, 0, len(progress.Steps))
		for _, sp := range progress.Steps {
			steps = append(steps, StepProgressView{StepOrder: sp.StepOrder, Status: string(sp.Status)})
		}
		resp.PlaybookProgress = &PlaybookProgressView{
			PlaybookID:      progress.PlaybookID,
			PlaybookVersion: progress.PlaybookVersion,
			TotalSteps:      progress.TotalSteps,
			CurrentStep:     progress.CurrentStep,
			Steps:           steps,
		}
	}
	for _, te := range executions {
		resp.ToolExecutions = append(resp.ToolExecutions, ToolExecutionView{
			ExecutionID:  te.ExecutionID,
			StepOrder:    te.StepOrder,
			ToolID:       te.ToolID,
			Status:       string(te.Status),
			ErrorMessage: te.ErrorMessage,
		})
	}

	return c.JSON(http.StatusOK, resp)
}
