// Package replay implements spec.md's replay hook (§1, §9 Design Notes):
// re-running an exception under overrides, without specifying any
// user-facing surface around it (the UI-facing machinery is an explicit
// non-goal). Fork resolves an overridden copy of an exception's original
// intake payload and re-injects it as a new exceptions.ingested envelope
// under a fresh identity, so the whole pipeline reprocesses it exactly
// as it would a first arrival. The override-precedence style (last
// non-empty override wins, applied key by key) is grounded in tarsy's
// pkg/agent/config_resolver.go hierarchy resolution.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
	"github.com/google/uuid"
)

// Overrides carries the fields a replay may change relative to the
// original exception. A zero-value field leaves the original's value in
// place — the same lowest-to-highest precedence convention
// config_resolver.go uses for its hierarchy.
type Overrides struct {
	Severity          domain.Severity
	NormalizedPayload json.RawMessage
}

// Fork reads the exception identified by id, applies overrides to its
// original intake shape, and publishes the result as a new
// exceptions.ingested envelope under a newly minted exception id. It
// returns that new id. Fork does not touch the original exception's row.
func Fork(ctx context.Context, st store.Store, id domain.Identity, overrides Overrides) (string, error) {
	ctx = tenant.WithTenant(ctx, id.TenantID)

	original, err := st.GetException(ctx, id)
	if err != nil {
		return "", fmt.Errorf("replay: resolve original exception: %w", err)
	}

	severity := original.Severity
	if overrides.Severity != "" {
		severity = overrides.Severity
	}
	rawPayload := original.RawPayload
	if len(overrides.NormalizedPayload) > 0 {
		rawPayload = overrides.NormalizedPayload
	}

	newID := uuid.NewString()
	payload := roles.IngestedPayload{
		SourceSystem:  original.SourceSystem,
		Domain:        original.Domain,
		ExceptionType: original.ExceptionType,
		Severity:      string(severity),
		RawPayload:    rawPayload,
	}
	payloadMap, err := toPayloadMap(payload)
	if err != nil {
		return "", fmt.Errorf("replay: encode forked payload: %w", err)
	}

	env := eventlog.Envelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     "ExceptionIngested",
		TenantID:      id.TenantID,
		ExceptionID:   newID,
		OccurredAt:    time.Now().UTC(),
		Producer:      "replay",
		CorrelationID: id.ExceptionID,
		Payload:       payloadMap,
	}

	if err := st.Commit(ctx, store.CommitInput{
		TenantID:    id.TenantID,
		ExceptionID: newID,
		Outbound:    []store.OutboundEnvelope{{Topic: eventlog.TopicExceptionsIngested, Envelope: env}},
	}); err != nil {
		return "", fmt.Errorf("replay: enqueue forked envelope: %w", err)
	}

	return newID, nil
}

func toPayloadMap(p roles.IngestedPayload) (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
