package store

import (
	"context"
	"sync"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// checkTenant enforces P5 against a caller-supplied tenant ID whenever
// ctx is tenant-scoped. Call sites that still pass a bare context (most
// of the existing worker/test call paths, pre-dating the tenant
// package) are left unenforced rather than broken — tenant.WithTenant
// is the opt-in, not a requirement every Store caller must adopt
// immediately.
func checkTenant(ctx context.Context, tenantID string) error {
	got, err := tenant.From(ctx)
	if err != nil {
		return nil
	}
	if got != tenantID {
		return tenant.ErrCrossTenant
	}
	return nil
}

// Mem is an in-memory Store for unit tests, mirroring pgStore's semantics
// (CAS on Exception.Version, dedup on event logical key) without a
// database.
type Mem struct {
	mu         sync.Mutex
	exceptions map[domain.Identity]*domain.Exception
	progress   map[domain.Identity]*domain.PlaybookProgress
	tools      map[domain.Identity]map[string]*domain.ToolExecution
	events     map[domain.Identity][]domain.Event
	seenEvents map[eventlog.LogicalKey]struct{}
	outbox     []OutboxRow
	dlq        []DLQEntry
	nextRowID  int64
}

// NewMem creates an empty in-memory Store.
func NewMem() *Mem {
	return &Mem{
		exceptions: make(map[domain.Identity]*domain.Exception),
		progress:   make(map[domain.Identity]*domain.PlaybookProgress),
		tools:      make(map[domain.Identity]map[string]*domain.ToolExecution),
		events:     make(map[domain.Identity][]domain.Event),
		seenEvents: make(map[eventlog.LogicalKey]struct{}),
	}
}

func (m *Mem) Close() error { return nil }

func (m *Mem) GetException(ctx context.Context, id domain.Identity) (*domain.Exception, error) {
	if err := checkTenant(ctx, id.TenantID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exceptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Mem) GetPlaybookProgress(ctx context.Context, id domain.Identity) (*domain.PlaybookProgress, error) {
	if err := checkTenant(ctx, id.TenantID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.Steps = append([]domain.StepProgress(nil), p.Steps...)
	return &cp, nil
}

func (m *Mem) EventExists(_ context.Context, _ string, key eventlog.LogicalKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seenEvents[key]
	return ok, nil
}

func (m *Mem) ListEvents(ctx context.Context, id domain.Identity) ([]domain.Event, error) {
	if err := checkTenant(ctx, id.TenantID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events[id]...), nil
}

func (m *Mem) ListToolExecutions(ctx context.Context, id domain.Identity) ([]domain.ToolExecution, error) {
	if err := checkTenant(ctx, id.TenantID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ToolExecution
	for _, t := range m.tools[id] {
		out = append(out, *t)
	}
	return out, nil
}

func (m *Mem) ListDLQ(ctx context.Context, tenantID string, limit int) ([]DLQEntry, error) {
	if err := checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DLQEntry
	for i := len(m.dlq) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.dlq[i].Envelope.TenantID == tenantID {
			out = append(out, m.dlq[i])
		}
	}
	return out, nil
}

func (m *Mem) PendingOutbox(_ context.Context, limit int) ([]OutboxRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxRow
	for _, r := range m.outbox {
		if r.PublishedAt == nil {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Mem) MarkPublished(_ context.Context, rowID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].RowID == rowID {
			now := time.Now().UTC()
			m.outbox[i].PublishedAt = &now
			return nil
		}
	}
	return nil
}

func (m *Mem) DueSLAEntries(_ context.Context) ([]SLAEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SLAEntry
	for _, e := range m.exceptions {
		if e.SLADeadline == nil || e.IsTerminal() {
			continue
		}
		last := ""
		if e.LastSLAEmitted != nil {
			last = *e.LastSLAEmitted
		}
		out = append(out, SLAEntry{
			TenantID:       e.TenantID,
			ExceptionID:    e.ExceptionID,
			SLADeadline:    *e.SLADeadline,
			LastSLAEmitted: last,
		})
	}
	return out, nil
}

func (m *Mem) MarkSLAEmitted(_ context.Context, id domain.Identity, marker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.exceptions[id]; ok {
		e.LastSLAEmitted = &marker
	}
	return nil
}

// Commit applies CommitInput in process memory under a single lock,
// matching pgStore's atomicity and CAS contract.
func (m *Mem) Commit(ctx context.Context, in CommitInput) error {
	if err := checkTenant(ctx, in.TenantID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := domain.Identity{TenantID: in.TenantID, ExceptionID: in.ExceptionID}

	if in.Exception != nil {
		existing, ok := m.exceptions[id]
		if in.ExpectedVersion == 0 {
			if !ok {
				cp := *in.Exception
				cp.Version = 1
				m.exceptions[id] = &cp
			}
		} else {
			if !ok || existing.Version != in.ExpectedVersion {
				return ErrVersionConflict
			}
			cp := *in.Exception
			cp.Version = existing.Version + 1
			cp.UpdatedAt = time.Now().UTC()
			m.exceptions[id] = &cp
		}
	}

	if in.PlaybookProgress != nil {
		cp := *in.PlaybookProgress
		cp.Steps = append([]domain.StepProgress(nil), in.PlaybookProgress.Steps...)
		m.progress[id] = &cp
	}

	for i := range in.ToolExecutions {
		t := in.ToolExecutions[i]
		if m.tools[id] == nil {
			m.tools[id] = make(map[string]*domain.ToolExecution)
		}
		cp := t
		m.tools[id][t.ExecutionID] = &cp
	}

	for _, ev := range in.Events {
		key := eventlog.LogicalKey{
			ExceptionID: ev.ExceptionID,
			EventType:   ev.EventType,
			Attempt:     ev.Attempt,
			Producer:    ev.Producer,
		}
		if _, dup := m.seenEvents[key]; dup {
			continue
		}
		m.seenEvents[key] = struct{}{}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		m.events[id] = append(m.events[id], ev)
	}

	for _, ob := range in.Outbound {
		m.nextRowID++
		m.outbox = append(m.outbox, OutboxRow{
			RowID:    m.nextRowID,
			Topic:    ob.Topic,
			Key:      ob.Envelope.Key(),
			Envelope: ob.Envelope,
		})
		if ob.Topic == eventlog.TopicControlDLQ {
			m.dlq = append(m.dlq, DLQEntry{
				Envelope:   ob.Envelope,
				DivertedAt: time.Now().UTC(),
			})
		}
	}

	return nil
}
