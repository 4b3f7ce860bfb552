// Package worker is the Worker Runtime (C5): it binds one role.Handler
// to one Event Log consumer group, drives the read-resolve-handle-commit-
// ack loop spec.md §5 describes, and reports liveness/readiness over
// HTTP. Adapted from tarsy's pkg/queue poll-claim-execute Worker/Pool,
// generalized from a single Postgres-polling session queue to many
// role-bound consumer groups over the Event Log, with bounded
// concurrency as a semaphore rather than N dedicated poller goroutines.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/metrics"
	"github.com/codeready-toolchain/excproc/pkg/notify"
	"github.com/codeready-toolchain/excproc/pkg/resilience"
	"github.com/codeready-toolchain/excproc/pkg/retry"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tenant"
)

// Lifecycle mirrors the worker's reported state across /healthz and /readyz.
type Lifecycle int

// Lifecycle values, in the order a worker passes through them.
const (
	LifecycleInit Lifecycle = iota
	LifecycleReady
	LifecycleRunning
	LifecycleDraining
	LifecycleStopped
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleInit:
		return "init"
	case LifecycleReady:
		return "ready"
	case LifecycleRunning:
		return "running"
	case LifecycleDraining:
		return "draining"
	case LifecycleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// maxCASRetries bounds how many times one delivery is re-read and
// re-handled after a store.ErrVersionConflict before the delivery is
// reported as a transient failure to the retry controller — a sustained
// conflict past this point means something other than ordinary
// contention is wrong.
const maxCASRetries = 5

// Runtime drives one role's consumer loop.
type Runtime struct {
	Role      roles.Handler
	Topic     string
	Group     string
	Variant   string // consumer identity suffix within the group
	Consumer  eventlog.Consumer
	Publisher eventlog.Publisher
	Store     store.Store
	Registry  *config.Registry
	Concurrency int

	Breaker  *resilience.CircuitBreaker
	Logger   *slog.Logger
	Notifier *notify.Service // nil-safe; no-op when unset

	mu        sync.RWMutex
	lifecycle Lifecycle

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Runtime with sane defaults for fields left zero.
func New(role roles.Handler, topic string, consumer eventlog.Consumer, publisher eventlog.Publisher, st store.Store, registry *config.Registry) *Runtime {
	return &Runtime{
		Role:        role,
		Topic:       topic,
		Group:       eventlog.GroupID(role.Role(), ""),
		Consumer:    consumer,
		Publisher:   publisher,
		Store:       st,
		Registry:    registry,
		Concurrency: 4,
		Breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "worker:" + role.Role(),
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerState(name, int(to))
			},
		}),
		Logger:    slog.Default(),
		lifecycle: LifecycleInit,
		stopCh:    make(chan struct{}),
	}
}

// Lifecycle reports the runtime's current state.
func (r *Runtime) Lifecycle() Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lifecycle
}

func (r *Runtime) setLifecycle(l Lifecycle) {
	r.mu.Lock()
	r.lifecycle = l
	r.mu.Unlock()
}

// Ready reports whether the runtime can currently make progress: it has
// started and its store/event-log circuit breaker is not open.
func (r *Runtime) Ready() bool {
	if r.Lifecycle() != LifecycleRunning {
		return false
	}
	return r.Breaker.State() != resilience.StateOpen
}

// Run starts Concurrency worker goroutines pulling from Consumer and
// blocks until ctx is cancelled or Stop is called, then drains in-flight
// deliveries before returning.
func (r *Runtime) Run(ctx context.Context) error {
	if r.Concurrency <= 0 {
		r.Concurrency = 1
	}
	r.setLifecycle(LifecycleReady)
	r.setLifecycle(LifecycleRunning)

	sem := make(chan struct{}, r.Concurrency)
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case <-r.stopCh:
			r.drain()
			return nil
		case sem <- struct{}{}:
		}

		delivery, ok, err := r.Consumer.Fetch(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				r.drain()
				return nil
			}
			r.Logger.Error("worker fetch failed", "role", r.Role.Role(), "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			<-sem
			r.drain()
			return nil
		}

		r.wg.Add(1)
		go func() {
			defer func() { <-sem; r.wg.Done() }()
			r.process(ctx, delivery)
		}()
	}
}

// Stop signals the run loop to exit and waits for in-flight deliveries
// to finish.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.drain()
}

func (r *Runtime) drain() {
	r.setLifecycle(LifecycleDraining)
	r.wg.Wait()
	r.setLifecycle(LifecycleStopped)
}

func (r *Runtime) process(ctx context.Context, delivery eventlog.Delivery) {
	ev := delivery.Envelope
	log := r.Logger.With("role", r.Role.Role(), "exception_id", ev.ExceptionID, "event_type", ev.EventType)
	start := time.Now()

	ctx = tenant.WithTenant(ctx, ev.TenantID)

	err := r.handleWithCAS(ctx, ev)
	if err == nil {
		metrics.RecordDelivery(r.Role.Role(), "committed", time.Since(start))
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			log.Error("ack failed", "error", ackErr)
		}
		return
	}

	kind := classify.Kind(err)
	log.Warn("handler failed", "kind", kind, "error", err)

	if !classify.Retryable(kind) {
		metrics.RecordDelivery(r.Role.Role(), "dlq", time.Since(start))
		r.divertToDLQ(ctx, ev, kind, err)
	} else {
		metrics.RecordDelivery(r.Role.Role(), "retry", time.Since(start))
		r.scheduleRetry(ctx, ev, kind, err)
	}

	if ackErr := delivery.Ack(ctx); ackErr != nil {
		log.Error("ack failed after terminal disposition", "error", ackErr)
	}
}

// handleWithCAS resolves state/config, calls the role handler, and
// commits the resulting Delta, retrying the whole read-handle-commit
// cycle on a version conflict since the handler's decision may itself
// depend on the state that changed underneath it.
func (r *Runtime) handleWithCAS(ctx context.Context, ev eventlog.Envelope) error {
	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		var state *domain.Exception
		var expectedVersion int64

		err := r.Breaker.Execute(ctx, func() error {
			s, getErr := r.Store.GetException(ctx, domain.Identity{TenantID: ev.TenantID, ExceptionID: ev.ExceptionID})
			if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
				return getErr
			}
			state = s
			if s != nil {
				expectedVersion = s.Version
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return classify.Transient{Err: err}
			}
			return classify.Transient{Err: err}
		}

		var progress *domain.PlaybookProgress
		if state != nil {
			if err := r.Breaker.Execute(ctx, func() error {
				p, getErr := r.Store.GetPlaybookProgress(ctx, state.ID())
				if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
					return getErr
				}
				progress = p
				return nil
			}); err != nil {
				return classify.Transient{Err: err}
			}
		}

		cfg, err := r.resolveConfig(ctx, ev, state)
		if err != nil {
			return err
		}

		delta, err := r.Role.Handle(ctx, state, progress, ev, cfg)
		if err != nil {
			return err
		}

		commitErr := r.Breaker.Execute(ctx, func() error {
			return r.Store.Commit(ctx, toCommitInput(ev, expectedVersion, delta))
		})
		if commitErr == nil {
			r.notifyIfEscalated(ctx, state, delta)
			return nil
		}
		if errors.Is(commitErr, store.ErrVersionConflict) {
			lastErr = commitErr
			metrics.RecordCASRetry(r.Role.Role())
			continue
		}
		if errors.Is(commitErr, resilience.ErrCircuitOpen) {
			return classify.Transient{Err: commitErr}
		}
		return classify.Transient{Err: commitErr}
	}
	return classify.Transient{Err: fmt.Errorf("worker: exhausted %d CAS retries: %w", maxCASRetries, lastErr)}
}

// notifyIfEscalated fires an operator notification the moment an
// exception transitions into the escalated status — not on every
// delivery that merely leaves it escalated, so a redelivered envelope
// doesn't re-notify.
func (r *Runtime) notifyIfEscalated(ctx context.Context, before *domain.Exception, delta roles.Delta) {
	if r.Notifier == nil || delta.Exception == nil {
		return
	}
	wasEscalated := before != nil && before.Status == domain.StatusEscalated
	if delta.Exception.Status == domain.StatusEscalated && !wasEscalated {
		r.Notifier.NotifyEscalated(ctx, notify.EscalatedInput{
			TenantID:      delta.Exception.TenantID,
			ExceptionID:   delta.Exception.ExceptionID,
			ExceptionType: delta.Exception.ExceptionType,
			Reason:        "step failure policy escalated this exception",
		})
	}
}

func (r *Runtime) resolveConfig(ctx context.Context, ev eventlog.Envelope, state *domain.Exception) (*config.Snapshot, error) {
	if r.Registry == nil {
		return nil, nil
	}
	domainName := ""
	if state != nil {
		domainName = state.Domain
	}
	snap, err := r.Registry.Resolve(ctx, domain.SnapshotID{TenantID: ev.TenantID, Domain: domainName})
	if err != nil {
		return nil, classify.ConfigMissing{Err: err}
	}
	return snap, nil
}

func toCommitInput(ev eventlog.Envelope, expectedVersion int64, delta roles.Delta) store.CommitInput {
	return store.CommitInput{
		TenantID:         ev.TenantID,
		ExceptionID:      ev.ExceptionID,
		ExpectedVersion:  expectedVersion,
		Exception:        delta.Exception,
		PlaybookProgress: delta.PlaybookProgress,
		ToolExecutions:   delta.ToolExecutions,
		Events:           delta.Events,
		Outbound:         delta.Outbound,
	}
}

// processingErrorEvent builds the ProcessingError timeline row spec.md §7
// requires for every retry/DLQ disposition, so an operator reading the
// exception's event history sees what went wrong without cross-referencing
// worker logs.
func processingErrorEvent(ev eventlog.Envelope, kind domain.ErrorKind, cause error) domain.Event {
	return domain.Event{
		EventID:     uuid.NewString(),
		TenantID:    ev.TenantID,
		ExceptionID: ev.ExceptionID,
		EventType:   "ProcessingError",
		ActorType:   domain.ActorSystem,
		ActorID:     "worker",
		Payload: mustMarshal(domain.ProcessingErrorPayload{
			Kind:    kind,
			Message: cause.Error(),
		}),
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: 1,
		Producer:      "excproc",
		Attempt:       ev.Attempt,
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("worker: payload %T failed to marshal: %v", v, err))
	}
	return b
}

func (r *Runtime) divertToDLQ(ctx context.Context, ev eventlog.Envelope, kind domain.ErrorKind, cause error) {
	metrics.RecordDLQDiversion(r.Role.Role(), string(kind))
	dlqEnv := ev
	if err := r.Store.Commit(ctx, store.CommitInput{
		TenantID:    ev.TenantID,
		ExceptionID: ev.ExceptionID,
		Events:      []domain.Event{processingErrorEvent(ev, kind, cause)},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicControlDLQ,
			Envelope: dlqEnv,
		}},
	}); err != nil {
		r.Logger.Error("failed to divert to DLQ", "error", err, "exception_id", ev.ExceptionID, "kind", kind, "cause", cause)
		return
	}
	if r.Notifier != nil {
		r.Notifier.NotifyDLQ(ctx, notify.DLQInput{
			TenantID:    ev.TenantID,
			ExceptionID: ev.ExceptionID,
			Topic:       r.Topic,
			ErrorKind:   string(kind),
			Detail:      cause.Error(),
		})
	}
}

func (r *Runtime) scheduleRetry(ctx context.Context, ev eventlog.Envelope, kind domain.ErrorKind, cause error) {
	re := retry.RetryEnvelope{
		OriginalTopic: r.Topic,
		Envelope:      ev,
		Reason:        string(kind),
		Detail:        cause.Error(),
	}
	payload, err := retry.ToPayload(re)
	if err != nil {
		r.Logger.Error("failed to encode retry payload", "error", err, "exception_id", ev.ExceptionID)
		return
	}
	retryEnv := ev
	retryEnv.EventType = "RetryScheduled"
	retryEnv.Payload = payload

	if err := r.Store.Commit(ctx, store.CommitInput{
		TenantID:    ev.TenantID,
		ExceptionID: ev.ExceptionID,
		Events:      []domain.Event{processingErrorEvent(ev, kind, cause)},
		Outbound: []store.OutboundEnvelope{{
			Topic:    eventlog.TopicControlRetry,
			Envelope: retryEnv,
		}},
	}); err != nil {
		r.Logger.Error("failed to schedule retry", "error", err, "exception_id", ev.ExceptionID, "kind", kind, "cause", cause)
	}
}
