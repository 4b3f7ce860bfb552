package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// maxRawPayloadSize bounds the source system's raw_payload field,
// independent of the server-wide 2MB body limit, so a single oversized
// field can't be padded out with cheap JSON framing to sneak under it.
const maxRawPayloadSize = 1 << 20 // 1 MiB

// submitExceptionHandler handles POST /api/v1/exceptions: the intake
// boundary. It creates no Exception row itself — it only enqueues an
// exceptions.ingested envelope to the outbox; the intake role handler
// is still the only code that ever creates one (spec.md §4.2's P1),
// keeping this handler a thin producer rather than a second intake path.
func (s *Server) submitExceptionHandler(c *echo.Context) error {
	tenantID, err := extractTenantID(c)
	if err != nil {
		return err
	}

	var req SubmitExceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SourceSystem == "" || req.ExceptionType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_system and exception_type are required")
	}
	if len(req.RawPayload) > maxRawPayloadSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("raw_payload exceeds maximum size of %d bytes", maxRawPayloadSize))
	}

	payload := roles.IngestedPayload{
		SourceSystem:  req.SourceSystem,
		Domain:        req.Domain,
		ExceptionType: req.ExceptionType,
		Severity:      req.Severity,
		RawPayload:    req.RawPayload,
	}
	payloadMap, err := encodePayload(payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode payload")
	}

	exceptionID := uuid.NewString()
	env := eventlog.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     "ExceptionIngested",
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
		Outbound:    []store.OutboundEnvelope{{Topic: eventlog.TopicExceptionsIngested, Envelope: env}},
	}); err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusAccepted, &ExceptionSubmittedResponse{
		ExceptionID: exceptionID,
		Status:      "queued",
	})
}
