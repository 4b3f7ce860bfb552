package domain

import "time"

// ActorType identifies who or what produced an Event.
type ActorType string

// ActorType values.
const (
	ActorAgent  ActorType = "agent"
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Event is an append-only record describing a transition or external
// stimulus for an Exception. The full timeline for an exception is its
// Event sequence; events are never updated or deleted.
type Event struct {
	EventID       string
	TenantID      string
	ExceptionID   string
	EventType     string
	ActorType     ActorType
	ActorID       string
	Payload       []byte
	CreatedAt     time.Time
	SchemaVersion int

	// Producer and Attempt mirror the envelope fields that produced this
	// row, so the dedup key (exception_id, event_type, attempt, producer)
	// from spec.md §5 can be checked without re-parsing Payload.
	Producer string
	Attempt  int
}

// ErrorKind classifies a ProcessingError event (spec.md §7).
type ErrorKind string

// ErrorKind values.
const (
	ErrorTransient         ErrorKind = "Transient"
	ErrorPermanent         ErrorKind = "Permanent"
	ErrorStalePrecondition ErrorKind = "StalePrecondition"
	ErrorConfigMissing     ErrorKind = "ConfigMissing"
)

// ProcessingErrorPayload is the payload of a ProcessingError event.
type ProcessingErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
