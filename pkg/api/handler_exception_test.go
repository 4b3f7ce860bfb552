package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

func seedExceptionForAPI(t *testing.T, st *store.Mem, id domain.Identity) {
	t.Helper()
	require.NoError(t, st.Commit(context.Background(), store.CommitInput{
		TenantID:    id.TenantID,
		ExceptionID: id.ExceptionID,
		Exception: &domain.Exception{
			TenantID:      id.TenantID,
			ExceptionID:   id.ExceptionID,
			SourceSystem:  "datadog",
			ExceptionType: "payment_failure",
			Severity:      domain.SeverityHigh,
			Status:        domain.StatusOpen,
			CurrentStage:  domain.StageTriage,
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		},
		Events: []domain.Event{{
			EventID:     "ev-1",
			TenantID:    id.TenantID,
			ExceptionID: id.ExceptionID,
			EventType:   "ExceptionIngested",
			ActorType:   domain.ActorSystem,
			ActorID:     "intake",
			CreatedAt:   time.Now().UTC(),
		}},
	}))
}

func TestGetExceptionHandlerReturnsStateAndTimeline(t *testing.T) {
	st := store.NewMem()
	id := domain.Identity{TenantID: "tenant-a", ExceptionID: "exc-1"}
	seedExceptionForAPI(t, st, id)

	s := NewServer(st)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exceptions/exc-1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "payment_failure")
	assert.Contains(t, rec.Body.String(), "ExceptionIngested")
}

func TestGetExceptionHandlerNotFound(t *testing.T) {
	s := NewServer(store.NewMem())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exceptions/missing", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetExceptionHandlerCrossTenantIsRejected(t *testing.T) {
	st := store.NewMem()
	id := domain.Identity{TenantID: "tenant-a", ExceptionID: "exc-1"}
	seedExceptionForAPI(t, st, id)

	s := NewServer(st)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/exceptions/exc-1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-b")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
