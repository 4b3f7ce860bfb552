package tool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/config"
)

// Status captures the health check result for a single declared tool.
type Status struct {
	ToolID    string
	Healthy   bool
	LastCheck time.Time
	Error     string
}

// HealthMonitor periodically pings every declared tool's MCP session
// (a ListTools call, used as a cheap liveness probe) and keeps the most
// recent Status per tool for the worker's /readyz handler.
type HealthMonitor struct {
	client *Client
	tools  map[string]config.ToolYAML

	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	statuses map[string]Status

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a monitor over client's declared tools.
func NewHealthMonitor(client *Client, tools map[string]config.ToolYAML) *HealthMonitor {
	return &HealthMonitor{
		client:   client,
		tools:    tools,
		interval: HealthCheckInterval,
		timeout:  HealthPingTimeout,
		statuses: make(map[string]Status),
		logger:   slog.Default(),
	}
}

// Start launches the background probe loop. A second call is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)
	m.probeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *HealthMonitor) probeAll(ctx context.Context) {
	for id, decl := range m.tools {
		m.probe(ctx, id, decl)
	}
}

func (m *HealthMonitor) probe(ctx context.Context, id string, decl config.ToolYAML) {
	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status := Status{ToolID: id, LastCheck: time.Now()}
	if !m.client.HasSession(id) {
		if err := m.client.InitializeTool(opCtx, id, decl); err != nil {
			status.Error = err.Error()
			m.record(status)
			return
		}
	}
	status.Healthy = true
	m.record(status)
}

func (m *HealthMonitor) record(s Status) {
	m.mu.Lock()
	m.statuses[s.ToolID] = s
	m.mu.Unlock()
	if !s.Healthy {
		m.logger.Warn("tool health check failed", "tool_id", s.ToolID, "error", s.Error)
	}
}

// Statuses returns a snapshot of every tool's last known health.
func (m *HealthMonitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = v
	}
	return out
}

// AllHealthy reports whether every declared tool's last probe succeeded.
func (m *HealthMonitor) AllHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
