package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/store"
)

func TestSubmitExceptionEnqueuesIngestedEnvelope(t *testing.T) {
	st := store.NewMem()
	s := NewServer(st)

	body := `{"source_system":"datadog","exception_type":"payment_failure","severity":"HIGH","raw_payload":{"order_id":"o-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exceptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rows, err := st.PendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "exceptions.ingested", rows[0].Topic)
	assert.Equal(t, "tenant-a", rows[0].Envelope.TenantID)
}

func TestSubmitExceptionRequiresTenantHeader(t *testing.T) {
	s := NewServer(store.NewMem())

	body := `{"source_system":"datadog","exception_type":"payment_failure"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exceptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitExceptionRejectsMissingRequiredFields(t *testing.T) {
	s := NewServer(store.NewMem())

	body := `{"source_system":"datadog"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exceptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitExceptionRejectsOversizedPayload(t *testing.T) {
	s := NewServer(store.NewMem())

	huge := strings.Repeat("a", maxRawPayloadSize+1)
	body := `{"source_system":"datadog","exception_type":"x","raw_payload":"` + huge + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exceptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
