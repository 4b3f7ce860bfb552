// Package retry implements the Retry/DLQ Controller (C9): it consumes
// control.retry envelopes, holds each for its backoff delay, and
// republishes to the envelope's original topic with Attempt incremented.
// Once an envelope's attempt count reaches the role's configured
// max_attempts, the controller diverts it to control.dlq instead of
// rescheduling — the decision of whether an error is retryable at all
// was already made by pkg/classify before the envelope ever reached
// control.retry.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

// Policy configures the backoff curve and attempt ceiling for one role's
// control.retry traffic. max_attempts counts the original delivery as
// attempt 1, so MaxAttempts=5 allows four redeliveries.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy mirrors spec.md §7's suggested defaults.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 5 * time.Minute, Multiplier: 2.0}
}

func (p Policy) delayFor(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0.2
	d := bo.InitialInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > bo.MaxInterval {
			d = bo.MaxInterval
			break
		}
	}
	return d
}

// RetryEnvelope is the payload carried on control.retry: the original
// envelope plus the topic it should be redelivered to and why it failed.
type RetryEnvelope struct {
	OriginalTopic string             `json:"original_topic"`
	Envelope      eventlog.Envelope  `json:"envelope"`
	Reason        string             `json:"reason"`
	Detail        string             `json:"detail"`
}

// Controller drains control.retry and either reschedules or diverts to
// control.dlq, per Policy keyed by the original topic.
type Controller struct {
	Store     store.Store
	Publisher eventlog.Publisher
	Consumer  eventlog.Consumer
	Policies  map[string]Policy // by OriginalTopic; falls back to Default
	Default   Policy
	Logger    *slog.Logger
}

// Run drains the controller's consumer until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for {
		delivery, ok, err := c.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("retry controller fetch failed", "error", err)
			continue
		}
		if !ok {
			return nil
		}
		if err := c.handle(ctx, delivery); err != nil {
			logger.Error("retry controller handle failed", "error", err, "exception_id", delivery.Envelope.ExceptionID)
			continue
		}
		if err := delivery.Ack(ctx); err != nil {
			logger.Error("retry controller ack failed", "error", err)
		}
	}
}

func (c *Controller) handle(ctx context.Context, delivery eventlog.Delivery) error {
	var re RetryEnvelope
	if err := decodePayload(delivery.Envelope.Payload, &re); err != nil {
		return err
	}

	policy, ok := c.Policies[re.OriginalTopic]
	if !ok {
		policy = c.Default
	}

	if re.Envelope.Attempt >= policy.MaxAttempts {
		return c.divertToDLQ(ctx, re)
	}

	delay := policy.delayFor(re.Envelope.Attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	next := re.Envelope
	next.Attempt++
	return c.Publisher.Publish(ctx, re.OriginalTopic, next)
}

func (c *Controller) divertToDLQ(ctx context.Context, re RetryEnvelope) error {
	return c.Store.Commit(ctx, store.CommitInput{
		TenantID:    re.Envelope.TenantID,
		ExceptionID: re.Envelope.ExceptionID,
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicControlDLQ,
			Envelope: re.Envelope,
		}},
	})
}

func decodePayload(payload map[string]any, out *RetryEnvelope) error {
	// Payload arrives as a generic map (it crossed the wire as JSON);
	// round-trip through the same codec rather than hand-rolling field
	// extraction, so new RetryEnvelope fields never need a matching
	// switch here.
	return remarshal(payload, out)
}
