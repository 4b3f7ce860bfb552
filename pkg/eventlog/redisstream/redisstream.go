// Package redisstream implements pkg/eventlog over Redis Streams.
// Each topic maps to one or more stream keys ("topic:shard-N"); the
// shard a given exception_id hashes to is stable, so a consumer group
// reading one shard always owns the full ordered history for any
// exception assigned to it — the partitioning guarantee spec.md §4.1
// asks for without depending on a specific partition count.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

// Log is a redis-backed eventlog.Publisher + eventlog.ConsumerFactory.
type Log struct {
	rdb        redis.UniversalClient
	shardCount int
	maxLen     int64
}

// Option configures a Log.
type Option func(*Log)

// WithShardCount sets the number of shards per topic (default 8). The
// core assumes >=1 shards and never relies on a specific count.
func WithShardCount(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.shardCount = n
		}
	}
}

// WithMaxLen caps each shard stream's approximate length (XADD MAXLEN ~).
func WithMaxLen(n int64) Option {
	return func(l *Log) { l.maxLen = n }
}

// New creates a Log over an existing redis client.
func New(rdb redis.UniversalClient, opts ...Option) *Log {
	l := &Log{rdb: rdb, shardCount: 8, maxLen: 1_000_000}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Log) streamKey(topic, key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := int(h.Sum32()) % l.shardCount
	return fmt.Sprintf("%s:shard-%d", topic, shard)
}

// Publish XADDs the envelope to the shard derived from its key.
func (l *Log) Publish(ctx context.Context, topic string, env eventlog.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisstream: marshal envelope: %w", err)
	}
	stream := l.streamKey(topic, env.Key())
	err = l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: l.maxLen,
		Approx: true,
		Values: map[string]any{"envelope": body},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisstream: XADD %s: %w", stream, err)
	}
	return nil
}

// streamsForTopic enumerates the shard keys for a topic.
func (l *Log) streamsForTopic(topic string) []string {
	streams := make([]string, l.shardCount)
	for i := 0; i < l.shardCount; i++ {
		streams[i] = fmt.Sprintf("%s:shard-%d", topic, i)
	}
	return streams
}

// Consumer opens a redis-backed consumer for a topic/group across all of
// the topic's shards, creating the consumer groups if absent.
func (l *Log) Consumer(ctx context.Context, topic, group, consumerName string) (eventlog.Consumer, error) {
	streams := l.streamsForTopic(topic)
	for _, s := range streams {
		err := l.rdb.XGroupCreateMkStream(ctx, s, group, "0").Err()
		if err != nil && !isBusyGroupErr(err) {
			return nil, fmt.Errorf("redisstream: create group %s on %s: %w", group, s, err)
		}
	}
	return &consumer{
		rdb:      l.rdb,
		streams:  streams,
		group:    group,
		consumer: consumerName,
	}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 17 && err.Error()[:17] == "BUSYGROUP Consume"
}

type consumer struct {
	rdb      redis.UniversalClient
	streams  []string
	group    string
	consumer string
	closed   bool
}

// Fetch blocks (with a short poll interval) until a message is available
// on one of the consumer's shards, reading pending-then-new entries, and
// returns it with an Ack that XACKs the message.
func (c *consumer) Fetch(ctx context.Context) (eventlog.Delivery, bool, error) {
	ids := make([]string, len(c.streams))
	for i := range ids {
		ids[i] = ">"
	}
	for {
		if c.closed {
			return eventlog.Delivery{}, false, nil
		}
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  append(append([]string{}, c.streams...), ids...),
			Count:    1,
			Block:    2 * time.Second,
		}).Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return eventlog.Delivery{}, false, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return eventlog.Delivery{}, false, ctx.Err()
			}
			slog.Warn("redisstream: XREADGROUP error, retrying", "group", c.group, "error", err)
			continue
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				raw, _ := msg.Values["envelope"].(string)
				var env eventlog.Envelope
				if err := json.Unmarshal([]byte(raw), &env); err != nil {
					slog.Error("redisstream: dropping unparseable message", "stream", stream.Stream, "id", msg.ID, "error", err)
					_ = c.rdb.XAck(ctx, stream.Stream, c.group, msg.ID).Err()
					continue
				}
				streamName, id := stream.Stream, msg.ID
				return eventlog.Delivery{
					Envelope: env,
					Ack: func(ackCtx context.Context) error {
						return c.rdb.XAck(ackCtx, streamName, c.group, id).Err()
					},
				}, true, nil
			}
		}
	}
}

// Close marks the consumer closed; in-flight Fetch calls return on their
// next poll tick.
func (c *consumer) Close() error {
	c.closed = true
	return nil
}
