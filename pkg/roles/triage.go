package roles

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/policy"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// TriageCompletedPayload is the triage.completed envelope's payload: the
// exception's severity as ingested (triage never changes it — only a
// policy decision may, per spec.md §4.3) and the SLA deadline triage
// derived from the tenant's SLA table.
type TriageCompletedPayload struct {
	Severity    string `json:"severity"`
	SLADeadline string `json:"sla_deadline,omitempty"`
}

// Triage implements the triage role: it enriches the normalized exception
// and sets its initial SLA deadline from the tenant's SLA table. It never
// changes severity — that is a policy decision, applied and audited one
// stage later.
type Triage struct{}

// Role implements Handler.
func (t Triage) Role() string { return "triage" }

// Handle implements Handler.
func (t Triage) Handle(_ context.Context, state *domain.Exception, _ *domain.PlaybookProgress, ev eventlog.Envelope, cfg *config.Snapshot) (Delta, error) {
	if state == nil {
		return Delta{}, classify.StalePrecondition{Err: errExceptionNotFound(ev.ExceptionID)}
	}
	if state.CurrentStage != domain.StageTriage {
		// Already advanced past triage: a redelivered envelope. Re-emit
		// so a crash between commit and ack is not silently dropped.
		return Delta{Exception: state, Outbound: t.emit(ev, state)}, nil
	}
	if cfg == nil {
		return Delta{}, classify.ConfigMissing{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	var in NormalizedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}
	var payload map[string]any
	_ = json.Unmarshal(in.NormalizedPayload, &payload)

	next := *state
	next.NormalizedPayload = in.NormalizedPayload
	next.CurrentStage = domain.StagePolicy

	if deadline, err := policy.SLADeadline(cfg, &next, payload, time.Now().UTC()); err == nil {
		next.SLADeadline = &deadline
	}

	return Delta{
		Exception: &next,
		Events: []domain.Event{
			newEvent(next.ID(), "TriageCompleted", domain.ActorSystem, "triage",
				t.payload(&next), 1),
		},
		Outbound: t.emit(ev, &next),
	}, nil
}

func (Triage) payload(exc *domain.Exception) TriageCompletedPayload {
	out := TriageCompletedPayload{Severity: string(exc.Severity)}
	if exc.SLADeadline != nil {
		out.SLADeadline = exc.SLADeadline.Format(time.RFC3339)
	}
	return out
}

func (t Triage) emit(ev eventlog.Envelope, exc *domain.Exception) []store.OutboundEnvelope {
	return []store.OutboundEnvelope{{
		Topic:    eventlog.TopicTriageCompleted,
		Envelope: nextEnvelope(ev, "TriageCompleted", t.payload(exc)),
	}}
}

