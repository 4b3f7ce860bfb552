// Package sla is the SLA Monitor (C8): a ticker-driven background
// service that scans (sla_deadline, exception_id) pairs and emits
// sla.imminent / sla.expired envelopes, adapted from tarsy's
// pkg/cleanup/service.go context-cancellable loop pattern — generalized
// from session/event retention sweeps to SLA-deadline sweeps, and from
// row deletion to envelope emission plus a status mutation on expiry.
package sla

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/metrics"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
	"github.com/google/uuid"
)

const (
	markerImminent = "imminent"
	markerExpired  = "expired"
)

// Config controls the monitor's tick interval and imminent window.
// Defaults match spec.md §4.5: a 60s resolution and a 10 minute
// imminent window when left zero.
type Config struct {
	Interval       time.Duration
	ImminentWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.ImminentWindow <= 0 {
		c.ImminentWindow = 10 * time.Minute
	}
	return c
}

// Monitor runs the SLA sweep loop.
type Monitor struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a Monitor over st, using cfg (zero fields default per Config.withDefaults).
func NewMonitor(st store.Store, cfg Config) *Monitor {
	return &Monitor{store: st, cfg: cfg.withDefaults(), logger: slog.Default().With("component", "sla-monitor")}
}

// Start launches the background sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx)

	m.logger.Info("SLA monitor started", "interval", m.cfg.Interval, "imminent_window", m.cfg.ImminentWindow)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.logger.Info("SLA monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.sweep(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep implements one tick of spec.md §4.5: for each due entry within
// the imminent window, emit sla.imminent once per window; for each
// passed deadline, emit sla.expired once and escalate. Both are
// deduped by the persisted last_sla_emitted marker so a sweep that
// overlaps the previous one (a slow Store call, a missed tick) never
// double-emits.
func (m *Monitor) sweep(ctx context.Context) {
	entries, err := m.store.DueSLAEntries(ctx)
	if err != nil {
		m.logger.Error("SLA sweep: failed to list due entries", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		switch {
		case now.After(entry.SLADeadline):
			if entry.LastSLAEmitted == markerExpired {
				continue
			}
			m.emitExpired(ctx, entry)
		case entry.SLADeadline.Sub(now) <= m.cfg.ImminentWindow:
			if entry.LastSLAEmitted == markerImminent || entry.LastSLAEmitted == markerExpired {
				continue
			}
			m.emitImminent(ctx, entry)
		}
	}
}

func (m *Monitor) emitImminent(ctx context.Context, entry store.SLAEntry) {
	ctx = tenant.WithTenant(ctx, entry.TenantID)
	id := domain.Identity{TenantID: entry.TenantID, ExceptionID: entry.ExceptionID}
	env := newEnvelope(id, "sla.imminent", map[string]any{
		"sla_deadline": entry.SLADeadline,
	})
	if err := m.store.Commit(ctx, store.CommitInput{
		TenantID:    entry.TenantID,
		ExceptionID: entry.ExceptionID,
		Outbound:    []store.OutboundEnvelope{{Topic: eventlog.TopicSLAImminent, Envelope: env}},
	}); err != nil {
		m.logger.Error("SLA sweep: failed to emit sla.imminent", "error", err, "exception_id", entry.ExceptionID)
		return
	}
	if err := m.store.MarkSLAEmitted(ctx, id, markerImminent); err != nil {
		m.logger.Error("SLA sweep: failed to mark imminent emitted", "error", err, "exception_id", entry.ExceptionID)
	}
	metrics.RecordSLAEmission(markerImminent)
}

func (m *Monitor) emitExpired(ctx context.Context, entry store.SLAEntry) {
	ctx = tenant.WithTenant(ctx, entry.TenantID)
	id := domain.Identity{TenantID: entry.TenantID, ExceptionID: entry.ExceptionID}

	state, err := m.store.GetException(ctx, id)
	if err != nil {
		m.logger.Error("SLA sweep: failed to read exception for expiry", "error", err, "exception_id", entry.ExceptionID)
		return
	}
	if state.IsTerminal() {
		// Resolved/closed between the DueSLAEntries scan and now; nothing to escalate.
		if markErr := m.store.MarkSLAEmitted(ctx, id, markerExpired); markErr != nil {
			m.logger.Error("SLA sweep: failed to mark expired on terminal exception", "error", markErr, "exception_id", entry.ExceptionID)
		}
		return
	}

	next := *state
	next.Status = domain.StatusEscalated
	marker := markerExpired
	next.LastSLAEmitted = &marker

	env := newEnvelope(id, "sla.expired", map[string]any{
		"sla_deadline": entry.SLADeadline,
	})
	evt := domain.Event{
		EventID:       uuid.NewString(),
		TenantID:      entry.TenantID,
		ExceptionID:   entry.ExceptionID,
		EventType:     "ExceptionEscalated",
		ActorType:     domain.ActorSystem,
		ActorID:       "sla-monitor",
		Payload:       mustJSON(map[string]any{"reason": "sla_expired"}),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: 1,
		Producer:      "excproc",
	}

	if err := m.store.Commit(ctx, store.CommitInput{
		TenantID:        entry.TenantID,
		ExceptionID:     entry.ExceptionID,
		ExpectedVersion: state.Version,
		Exception:       &next,
		Events:          []domain.Event{evt},
		Outbound:        []store.OutboundEnvelope{{Topic: eventlog.TopicSLAExpired, Envelope: env}},
	}); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// The exception moved underneath us; the next sweep will re-evaluate it.
			return
		}
		m.logger.Error("SLA sweep: failed to commit expiry", "error", err, "exception_id", entry.ExceptionID)
		return
	}
	if err := m.store.MarkSLAEmitted(ctx, id, markerExpired); err != nil {
		m.logger.Error("SLA sweep: failed to mark expired emitted", "error", err, "exception_id", entry.ExceptionID)
	}
	metrics.RecordSLAEmission(markerExpired)
}

func newEnvelope(id domain.Identity, eventType string, payload map[string]any) eventlog.Envelope {
	return eventlog.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     eventType,
		TenantID:      id.TenantID,
		ExceptionID:   id.ExceptionID,
		OccurredAt:    time.Now().UTC(),
		Producer:      "sla-monitor",
		CorrelationID: id.ExceptionID,
		Payload:       payload,
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
