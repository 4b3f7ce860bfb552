// Package store is the State Store (C2): the authoritative relational
// store of exceptions, their event timeline, playbook progress, tool
// executions, and the transactional outbox. The Event Log is transport
// only — it is never consulted to reconstruct state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

// ErrVersionConflict is returned by Commit when the exception's version
// no longer matches ExpectedVersion — the caller must re-read and
// re-evaluate (spec.md §5's CAS retry loop).
var ErrVersionConflict = errors.New("store: version conflict")

// ErrNotFound is returned when an exception or related row doesn't exist.
var ErrNotFound = errors.New("store: not found")

// CommitInput bundles the three effects a handler invocation commits
// atomically: the state mutation, the new event row(s) it produces, and
// the outbound envelope(s) it enqueues to the outbox. Acknowledgement of
// the inbound offset happens only after Commit succeeds.
type CommitInput struct {
	TenantID        string
	ExceptionID     string
	ExpectedVersion int64 // CAS target; ignored (create path) if Exception.Version == 0 and no row exists yet

	// Exception is the new state to persist. Nil means no state mutation
	// (e.g. a StalePrecondition ack that only records an event).
	Exception *domain.Exception

	// PlaybookProgress, if non-nil, replaces the persisted progress row set.
	PlaybookProgress *domain.PlaybookProgress

	// ToolExecutions are upserted (by ExecutionID).
	ToolExecutions []domain.ToolExecution

	// Events are appended to the timeline. Each is deduped by its
	// logical key (exception_id, event_type, attempt, producer); a
	// duplicate is silently skipped rather than erroring, so replay is
	// idempotent (P3).
	Events []domain.Event

	// Outbound are enqueued to the outbox table, one row per (topic, envelope).
	Outbound []OutboundEnvelope
}

// OutboundEnvelope pairs a topic with the envelope to publish to it.
type OutboundEnvelope struct {
	Topic    string
	Envelope eventlog.Envelope
}

// OutboxRow is a pending (or already-published) outbox entry.
type OutboxRow struct {
	RowID       int64
	Topic       string
	Key         string
	Envelope    eventlog.Envelope
	PublishedAt *time.Time
}

// SLAEntry is one (deadline, exception) pair the SLA monitor tracks.
type SLAEntry struct {
	TenantID       string
	ExceptionID    string
	SLADeadline    time.Time
	LastSLAEmitted string // "", "imminent", or "expired"
}

// Store is the State Store contract. All methods are tenant-scoped: a
// caller must always supply TenantID and implementations must never
// return or mutate a row belonging to a different tenant (P5).
type Store interface {
	// GetException reads the current exception state. Returns ErrNotFound
	// if absent.
	GetException(ctx context.Context, id domain.Identity) (*domain.Exception, error)

	// GetPlaybookProgress reads the progress row set for an exception, or
	// nil if no playbook has been matched yet.
	GetPlaybookProgress(ctx context.Context, id domain.Identity) (*domain.PlaybookProgress, error)

	// EventExists reports whether an event with the given logical key has
	// already been recorded, for idempotent-replay checks outside of Commit.
	EventExists(ctx context.Context, tenantID string, key eventlog.LogicalKey) (bool, error)

	// ListEvents returns the exception's timeline in (created_at, insertion
	// sequence) order.
	ListEvents(ctx context.Context, id domain.Identity) ([]domain.Event, error)

	// Commit atomically persists CommitInput's three effects. On a version
	// mismatch it returns ErrVersionConflict and persists nothing.
	Commit(ctx context.Context, in CommitInput) error

	// PendingOutbox returns up to limit undelivered outbox rows in FIFO
	// (row_id) order, for the outbox dispatcher.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error)

	// MarkPublished records that an outbox row's envelope was handed to
	// the Event Log. Republication after a crash between insert and
	// publish is expected (P6) — callers must tolerate being asked to
	// mark an already-published row.
	MarkPublished(ctx context.Context, rowID int64) error

	// DueSLAEntries returns non-terminal exceptions whose sla_deadline is
	// set, for the SLA monitor's tick.
	DueSLAEntries(ctx context.Context) ([]SLAEntry, error)

	// MarkSLAEmitted records the dedup marker ("imminent" or "expired")
	// for an exception, guaranteeing P7 (at most one sla.expired ever).
	MarkSLAEmitted(ctx context.Context, id domain.Identity, marker string) error

	// ListToolExecutions returns the tool executions recorded for an
	// exception (across all steps).
	ListToolExecutions(ctx context.Context, id domain.Identity) ([]domain.ToolExecution, error)

	// ListDLQ returns envelopes diverted to control.dlq, most recent first.
	ListDLQ(ctx context.Context, tenantID string, limit int) ([]DLQEntry, error)

	Close() error
}

// DLQEntry is one control.dlq diversion, for the operator read surface.
type DLQEntry struct {
	Envelope  eventlog.Envelope
	Reason    string
	Detail    string
	DivertedAt time.Time
}
