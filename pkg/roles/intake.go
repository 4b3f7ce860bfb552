package roles

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// IngestedPayload is the exceptions.ingested envelope's payload: the raw,
// source-system-shaped exception as it arrived at the boundary, not yet
// validated against any domain schema.
type IngestedPayload struct {
	SourceSystem  string          `json:"source_system"`
	Domain        string          `json:"domain"`
	ExceptionType string          `json:"exception_type"`
	Severity      string          `json:"severity"`
	RawPayload    json.RawMessage `json:"raw_payload"`
}

// NormalizedPayload is the exceptions.normalized envelope's payload: the
// same exception after intake's validation pass.
type NormalizedPayload struct {
	NormalizedPayload json.RawMessage `json:"normalized_payload"`
}

// Intake implements the intake role: it is the only handler allowed to
// create an Exception row. It performs no domain-specific validation
// beyond structural well-formedness (spec.md leaves schema validation of
// the source payload to the normalized-payload stage, which already has
// a config.Snapshot to validate against); its job is to establish
// identity and hand off to triage.
type Intake struct{}

// Role implements Handler.
func (Intake) Role() string { return "intake" }

// Handle implements Handler.
func (Intake) Handle(_ context.Context, state *domain.Exception, _ *domain.PlaybookProgress, ev eventlog.Envelope, _ *config.Snapshot) (Delta, error) {
	if state != nil {
		// Envelope redelivery of an already-created exception: nothing
		// further to do, but still re-emit so a crash between commit and
		// ack doesn't strand the exception at intake forever.
		return Delta{Exception: state, Outbound: emitNormalized(ev, state)}, nil
	}

	var in IngestedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}
	if in.SourceSystem == "" || in.ExceptionType == "" {
		return Delta{}, classify.Permanent{Err: fmt.Errorf("roles: ingested payload missing source_system or exception_type")}
	}

	exc := &domain.Exception{
		TenantID:      ev.TenantID,
		ExceptionID:   ev.ExceptionID,
		SourceSystem:  in.SourceSystem,
		Domain:        in.Domain,
		ExceptionType: in.ExceptionType,
		Severity:      domain.Severity(defaultString(in.Severity, string(domain.SeverityMedium))),
		Status:        domain.StatusOpen,
		RawPayload:        in.RawPayload,
		NormalizedPayload: in.RawPayload,
		CurrentStage:      domain.StageTriage,
	}

	return Delta{
		Exception: exc,
		Events: []domain.Event{
			newEvent(exc.ID(), "ExceptionIngested", domain.ActorSystem, "intake", in, 1),
		},
		Outbound: emitNormalized(ev, exc),
	}, nil
}

func emitNormalized(ev eventlog.Envelope, exc *domain.Exception) []store.OutboundEnvelope {
	return []store.OutboundEnvelope{{
		Topic:    eventlog.TopicExceptionsNormalized,
		Envelope: nextEnvelope(ev, "ExceptionNormalized", NormalizedPayload{NormalizedPayload: exc.RawPayload}),
	}}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
