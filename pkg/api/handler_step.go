package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// completeStepHandler handles POST /api/v1/exceptions/:id/steps/:order/complete:
// an operator closing out a human playbook step. It enqueues a
// step.completed envelope for the step role handler to act on, the same
// envelope shape a tool-driven step completion produces, so the step
// role's state machine doesn't need to distinguish the two sources.
func (s *Server) completeStepHandler(c *echo.Context) error {
	tenantID, err := extractTenantID(c)
	if err != nil {
		return err
	}
	exceptionID := c.Param("id")

	order, err := strconv.Atoi(c.Param("order"))
	if err != nil || order < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "order must be a positive integer")
	}

	var req CompleteStepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := tenant.WithTenant(c.Request().Context(), tenantID)
	progress, err := s.store.GetPlaybookProgress(ctx, domain.Identity{TenantID: tenantID, ExceptionID: exceptionID})
	if err != nil {
		return mapStoreError(err)
	}
	if progress == nil {
		return echo.NewHTTPError(http.StatusConflict, "no playbook has been matched for this exception yet")
	}
	step := progress.StepAt(order)
	if step == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no such step")
	}

	payload := roles.StepCompletedPayload{
		PlaybookID: progress.PlaybookID,
		StepOrder:  order,
		Notes:      req.Notes,
	}
	payloadMap, err := encodePayload(payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode payload")
	}

	env := eventlog.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     "StepCompleted",
		TenantID:      tenantID,
		ExceptionID:   exceptionID,
		OccurredAt:    time.Now().UTC(),
		Producer:      "ingest-api",
		CorrelationID: exceptionID,
		Payload:       payloadMap,
	}

	if err := s.store.Commit(ctx, store.CommitInput{
		TenantID:    tenantID,
		ExceptionID: exceptionID,
		Outbound:    []store.OutboundEnvelope{{Topic: eventlog.TopicStepCompleted, Envelope: env}},
	}); err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusAccepted, &StepCompletedResponse{
		ExceptionID: exceptionID,
		StepOrder:   order,
	})
}
