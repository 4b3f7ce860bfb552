package eventlog

import "context"

// Publisher publishes an envelope to its topic. Publish is synchronous
// from the caller's viewpoint; implementations MUST NOT silently drop an
// envelope. Role handlers never call Publisher directly — they write
// outbound envelopes to the store's outbox in the same transaction as
// their state mutation (spec.md §5); a separate dispatcher reads the
// outbox and calls Publisher.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// Delivery wraps a consumed Envelope with the transport-specific handle
// needed to acknowledge it once the handler's commit succeeds.
type Delivery struct {
	Envelope Envelope
	// Ack commits the consumer offset / removes the message from the
	// pending entries list. Call only after the handler's commit
	// (state + event + outbound envelopes) has durably succeeded.
	Ack func(ctx context.Context) error
}

// Consumer delivers envelopes from a topic in partition order, at least
// once, to one consumer instance per group (spec.md §4.1, §5).
type Consumer interface {
	// Fetch blocks until an envelope is available, ctx is done, or the
	// consumer is closed. Returns (Delivery{}, false, nil) on a clean
	// shutdown with nothing pending.
	Fetch(ctx context.Context) (Delivery, bool, error)
	Close() error
}

// ConsumerFactory opens a Consumer bound to one topic and consumer group.
type ConsumerFactory interface {
	Consumer(ctx context.Context, topic, group, consumerName string) (Consumer, error)
}
