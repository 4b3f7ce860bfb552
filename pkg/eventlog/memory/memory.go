// Package memory implements pkg/eventlog in-process, for unit tests that
// don't want a real Redis. It preserves per-key ordering and at-least-once
// delivery but has none of Redis Streams' durability.
package memory

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

type topicState struct {
	mu      sync.Mutex
	entries []eventlog.Envelope
	cond    *sync.Cond
}

// Log is an in-memory eventlog.Publisher + eventlog.ConsumerFactory.
// Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	topics map[string]*topicState
}

// New creates an empty in-memory log.
func New() *Log {
	return &Log{topics: make(map[string]*topicState)}
}

func (l *Log) topic(name string) *topicState {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[name]
	if !ok {
		t = &topicState{}
		t.cond = sync.NewCond(&t.mu)
		l.topics[name] = t
	}
	return t
}

// Publish appends the envelope to the topic's in-memory log.
func (l *Log) Publish(_ context.Context, topic string, env eventlog.Envelope) error {
	t := l.topic(topic)
	t.mu.Lock()
	t.entries = append(t.entries, env)
	t.cond.Broadcast()
	t.mu.Unlock()
	return nil
}

// Consumer returns an independent cursor over the topic for the given
// group. Distinct groups each see the full history from the start;
// within a group (here, one cursor per Consumer call) delivery is
// strictly in append order, matching per-exception-key ordering since
// all production code keys by exception_id.
func (l *Log) Consumer(_ context.Context, topic, _ string, _ string) (eventlog.Consumer, error) {
	return &memConsumer{t: l.topic(topic)}, nil
}

type memConsumer struct {
	t      *topicState
	cursor int
	closed bool
}

func (c *memConsumer) Fetch(ctx context.Context) (eventlog.Delivery, bool, error) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	for c.cursor >= len(c.t.entries) && !c.closed {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.t.cond.Broadcast()
			case <-done:
			}
		}()
		c.t.cond.Wait()
		close(done)
		if ctx.Err() != nil {
			return eventlog.Delivery{}, false, ctx.Err()
		}
	}
	if c.closed {
		return eventlog.Delivery{}, false, nil
	}
	env := c.t.entries[c.cursor]
	c.cursor++
	return eventlog.Delivery{
		Envelope: env,
		Ack:      func(context.Context) error { return nil },
	}, true, nil
}

func (c *memConsumer) Close() error {
	c.t.mu.Lock()
	c.closed = true
	c.t.cond.Broadcast()
	c.t.mu.Unlock()
	return nil
}
