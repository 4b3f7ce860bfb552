// Package api is the Ingest/Operator API (C9): the HTTP boundary that
// turns a source system's submission into an exceptions.ingested
// envelope, and lets an operator read an exception's timeline or act on
// it (feedback, step completion). Every write this package performs
// goes through the same store.Store.Commit outbox path a role handler
// uses — there is no direct publish to the Event Log from a request,
// so a crash between HTTP response and outbox dispatch behaves exactly
// like a crash between any role handler's commit and the dispatcher's
// next tick.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/excproc/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	store      store.Store
}

// NewServer creates a new API server with Echo v5, wired to st for both
// the read endpoints and the write endpoints' outbox commits.
func NewServer(st store.Store) *Server {
	e := echo.New()

	s := &Server{echo: e, store: st}
	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Server-wide body size limit (2 MB): rejects multi-MB/GB payloads at
	// the HTTP read level before deserialization, complementing the
	// application-level maxRawPayloadSize check in submitExceptionHandler.
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/exceptions", s.submitExceptionHandler)
	v1.GET("/exceptions/:id", s.getExceptionHandler)
	v1.POST("/exceptions/:id/feedback", s.submitFeedbackHandler)
	v1.POST("/exceptions/:id/steps/:order/complete", s.completeStepHandler)
}

// Start starts the HTTP server on the given address (non-blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health. A minimal, safe response suitable
// for unauthenticated access — it checks only that the State Store
// answers, not any role worker's liveness (that's /readyz on each
// worker's own health port).
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	checks := map[string]HealthCheck{"store": {Status: healthStatusHealthy}}

	if _, err := s.store.PendingOutbox(reqCtx, 1); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, &HealthResponse{Status: status, Checks: checks})
}
