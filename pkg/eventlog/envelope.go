// Package eventlog defines the wire envelope and the publish/consume
// contract that binds role handlers to the durable, partitioned event
// log (spec.md §4.1, §4.2). Concrete transports live in subpackages:
// redisstream (production, backed by Redis Streams) and memory (tests).
package eventlog

import "time"

// Envelope is the bit-stable wire format used on every topic.
// Serialization is JSON; every field is required except Payload's
// subfields. Unknown fields MUST be preserved on forwarding by any code
// that re-marshals an Envelope it didn't originate.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	TenantID      string          `json:"tenant_id"`
	ExceptionID   string          `json:"exception_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"`
	Attempt       int             `json:"attempt"`
	Payload       map[string]any  `json:"payload"`
}

// Key returns the partitioning key: per spec.md §4.1, every topic is
// keyed by exception_id so a single exception's events are always
// delivered in order to one consumer instance per group.
func (e Envelope) Key() string { return e.ExceptionID }

// LogicalKey is the dedup key from spec.md §5: an event with the same
// logical key already present in the event table means this envelope is
// a harmless republish and emission should be skipped.
type LogicalKey struct {
	ExceptionID string
	EventType   string
	Attempt     int
	Producer    string
}

// Logical returns the envelope's logical dedup key.
func (e Envelope) Logical() LogicalKey {
	return LogicalKey{
		ExceptionID: e.ExceptionID,
		EventType:   e.EventType,
		Attempt:     e.Attempt,
		Producer:    e.Producer,
	}
}
