package roles

import (
	"context"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// Verdict is an operator's assessment of a resolved exception.
type Verdict string

// Verdict values.
const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
)

// FeedbackCapturedPayload is the feedback.captured envelope's payload:
// an operator's verdict on the playbook's outcome, produced via the
// ingest API's operator-action endpoint.
type FeedbackCapturedPayload struct {
	Verdict Verdict `json:"verdict"`
	Notes   string  `json:"notes,omitempty"`
	ActorID string  `json:"actor_id"`
}

// PolicyRequestedPayload reopens the policy stage for an exception whose
// resolution an operator judged incorrect.
type PolicyRequestedPayload struct {
	Reason string `json:"reason"`
}

// Feedback implements the feedback role: it persists the operator's
// verdict as a FeedbackCaptured event (the append-only event log is the
// feedback record; spec.md names no separate feedback aggregate), and
// reopens the policy stage when the verdict is incorrect and the
// exception hasn't already reached a hard-terminal status.
type Feedback struct{}

// Role implements Handler.
func (Feedback) Role() string { return "feedback" }

// Handle implements Handler.
func (Feedback) Handle(_ context.Context, state *domain.Exception, _ *domain.PlaybookProgress, ev eventlog.Envelope, _ *config.Snapshot) (Delta, error) {
	if state == nil {
		return Delta{}, classify.StalePrecondition{Err: errExceptionNotFound(ev.ExceptionID)}
	}

	var in FeedbackCapturedPayload
	if err := decodePayload(ev.Payload, &in); err != nil {
		return Delta{}, classify.Permanent{Err: err}
	}

	captured := newEvent(state.ID(), "FeedbackCaptured", domain.ActorUser, in.ActorID, in, 1)

	if in.Verdict != VerdictIncorrect || state.IsTerminal() {
		return Delta{Exception: state, Events: []domain.Event{captured}}, nil
	}

	next := *state
	next.Status = domain.StatusInProgress
	next.CurrentStage = domain.StagePolicy
	next.CurrentPlaybookID = nil
	next.CurrentStep = nil

	reopenPayload := PolicyRequestedPayload{Reason: "feedback_incorrect"}

	return Delta{
		Exception: &next,
		Events: []domain.Event{
			captured,
			newEvent(next.ID(), "PolicyRequested", domain.ActorSystem, "feedback", reopenPayload, 1),
		},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicPolicyRequested,
			Envelope: nextEnvelope(ev, "PolicyRequested", reopenPayload),
		}},
	}, nil
}
