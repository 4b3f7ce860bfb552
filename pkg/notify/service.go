package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/metrics"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service delivers exception lifecycle notifications to Slack. Nil-safe:
// every method is a no-op when the service itself is nil, so callers
// don't need a feature flag check at every call site.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a Service, or nil if Token or Channel is unset —
// notifications are an optional ambient concern, not a hard dependency.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client,
// for testing against a mock Slack API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{client: client, dashboardURL: dashboardURL, logger: slog.Default().With("component", "notify-service")}
}

// NotifyEscalated posts an escalation notice. Fail-open: errors are
// logged, never returned, since a notification failure must never block
// the worker runtime that triggered it.
func (s *Service) NotifyEscalated(ctx context.Context, in EscalatedInput) {
	if s == nil {
		return
	}
	in.DashboardURL = s.dashboardURL
	err := s.client.PostMessage(ctx, BuildEscalatedMessage(in), 5*time.Second)
	metrics.RecordNotification("escalated", err)
	if err != nil {
		s.logger.Error("failed to send escalation notification", "exception_id", in.ExceptionID, "error", err)
	}
}

// NotifyDLQ posts a DLQ diversion notice.
func (s *Service) NotifyDLQ(ctx context.Context, in DLQInput) {
	if s == nil {
		return
	}
	in.DashboardURL = s.dashboardURL
	err := s.client.PostMessage(ctx, BuildDLQMessage(in), 5*time.Second)
	metrics.RecordNotification("dlq", err)
	if err != nil {
		s.logger.Error("failed to send DLQ notification", "exception_id", in.ExceptionID, "error", err)
	}
}
