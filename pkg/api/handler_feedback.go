package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// submitFeedbackHandler handles POST /api/v1/exceptions/:id/feedback: an
// operator's verdict on a resolved exception. It enqueues a
// feedback.captured envelope for the feedback role handler to act
// on — this handler never mutates the exception itself.
func (s *Server) submitFeedbackHandler(c *echo.Context) error {
	tenantID, err := extractTenantID(c)
	if err != nil {
		return err
	}
	exceptionID := c.Param("id")

	var req SubmitFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	verdict := roles.Verdict(req.Verdict)
	if verdict != roles.VerdictCorrect && verdict != roles.VerdictIncorrect {
		return echo.NewHTTPError(http.StatusBadRequest, "verdict must be \"correct\" or \"incorrect\"")
	}

	payload := roles.FeedbackCapturedPayload{
		Verdict: verdict,
		Notes:   req.Notes,
		ActorID: extractAuthor(c),
	}
	payloadMap, err := encodePayload(payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode payload")
	}

	env := eventlog.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     "FeedbackCaptured",
		TenantID:      tenantID,
		ExceptionID:   exceptionID,
		OccurredAt:    time.Now().UTC(),
		Producer:      "ingest-api",
		CorrelationID: exceptionID,
		Payload:       payloadMap,
	}

	ctx := tenant.WithTenant(c.Request().Context(), tenantID)
	if err := s.store.Commit(ctx, store.CommitInput{
		TenantID:    tenantID,
		ExceptionID: exceptionID,
		Outbound:    []store.OutboundEnvelope{{Topic: eventlog.TopicFeedbackCaptured, Envelope: env}},
	}); err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusAccepted, &FeedbackAcceptedResponse{
		ExceptionID: exceptionID,
		Verdict:     string(verdict),
	})
}
