// Package roles holds the seven pipeline role handlers (spec.md §4.3):
// intake, triage, policy, playbook, step, tool, feedback. Each is a pure
// function from (current state, inbound envelope, resolved config) to a
// Delta describing what to persist — no direct Store or Event Log calls.
// pkg/worker owns the read-handle-commit-ack loop and is the only thing
// that ever touches the Store or Publisher for a handled envelope, which
// is what lets these handlers be unit tested with plain values.
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// Delta is everything one Handle call wants committed atomically.
type Delta struct {
	Exception        *domain.Exception
	PlaybookProgress *domain.PlaybookProgress
	ToolExecutions   []domain.ToolExecution
	Events           []domain.Event
	Outbound         []store.OutboundEnvelope
}

// Handler is the contract every role implements.
type Handler interface {
	// Role returns the role name used in logs, consumer group ids, and
	// metric labels ("intake", "triage", "policy", "playbook", "step",
	// "tool", "feedback").
	Role() string

	// Handle computes the effects of delivering ev to an exception
	// currently in state `state` (nil only for the intake role's
	// ExceptionIngested event, which creates the row). cfg is the config
	// snapshot resolved for the exception's tenant/domain at the start of
	// this invocation. progress is the exception's PlaybookProgress, nil
	// until the playbook role creates it; only the playbook and step
	// roles read or mutate it.
	Handle(ctx context.Context, state *domain.Exception, progress *domain.PlaybookProgress, ev eventlog.Envelope, cfg *config.Snapshot) (Delta, error)
}

// decodePayload round-trips an envelope's generic Payload map into a
// concrete struct via JSON, the same approach pkg/retry uses — it keeps
// every handler's payload struct independent of how the envelope crossed
// the wire.
func decodePayload(payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("roles: marshal payload: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("roles: decode payload: %w", err)
	}
	return nil
}

func encodePayload(v any) map[string]any {
	body, err := json.Marshal(v)
	if err != nil {
		// v is always one of this package's own payload structs, which
		// always marshal cleanly; a failure here is a programming error.
		panic(fmt.Sprintf("roles: payload %T failed to marshal: %v", v, err))
	}
	var m map[string]any
	_ = json.Unmarshal(body, &m)
	return m
}

// nextEnvelope builds the outbound envelope for the next pipeline stage,
// preserving the correlation id and tenant/exception identity, resetting
// Attempt to 1 since a fresh stage's delivery count starts over.
func nextEnvelope(in eventlog.Envelope, eventType string, payload any) eventlog.Envelope {
	return eventlog.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     eventType,
		TenantID:      in.TenantID,
		ExceptionID:   in.ExceptionID,
		OccurredAt:    time.Now().UTC(),
		Producer:      "excproc",
		CorrelationID: in.CorrelationID,
		Attempt:       1,
		Payload:       encodePayload(payload),
	}
}

func newEvent(exc domain.Identity, eventType string, actor domain.ActorType, actorID string, payload any, attempt int) domain.Event {
	return domain.Event{
		EventID:       uuid.NewString(),
		TenantID:      exc.TenantID,
		ExceptionID:   exc.ExceptionID,
		EventType:     eventType,
		ActorType:     actor,
		ActorID:       actorID,
		Payload:       mustJSON(payload),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: 1,
		Producer:      "excproc",
		Attempt:       attempt,
	}
}

func errExceptionNotFound(exceptionID string) error {
	return fmt.Errorf("roles: no exception state for %s", exceptionID)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("roles: event payload failed to marshal: %v", err))
	}
	return b
}
