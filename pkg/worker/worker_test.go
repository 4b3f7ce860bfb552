package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/classify"
	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/eventlog/memory"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/store"
)

type echoHandler struct{ role string }

func (e echoHandler) Role() string { return e.role }

func (e echoHandler) Handle(_ context.Context, state *domain.Exception, _ *domain.PlaybookProgress, ev eventlog.Envelope, _ *config.Snapshot) (roles.Delta, error) {
	exc := state
	if exc == nil {
		exc = &domain.Exception{TenantID: ev.TenantID, ExceptionID: ev.ExceptionID, Status: domain.StatusOpen, CurrentStage: domain.StageTriage}
	}
	next := *exc
	next.CurrentStage = domain.StagePolicy
	return roles.Delta{Exception: &next}, nil
}

func TestRuntimeProcessesAndAdvancesStage(t *testing.T) {
	log := memory.New()
	st := store.NewMem()

	consumer, err := log.Consumer(context.Background(), "triage.completed", "triage-workers", "w1")
	require.NoError(t, err)

	rt := New(echoHandler{role: "triage"}, "triage.completed", consumer, log, st, nil)
	rt.Concurrency = 1

	require.NoError(t, log.Publish(context.Background(), "triage.completed", eventlog.Envelope{
		EventID: "e1", EventType: "TriageCompleted", TenantID: "t1", ExceptionID: "exc-1", Payload: map[string]any{},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = rt.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		exc, err := st.GetException(context.Background(), domain.Identity{TenantID: "t1", ExceptionID: "exc-1"})
		return err == nil && exc.CurrentStage == domain.StagePolicy
	}, time.Second, 10*time.Millisecond)

	rt.Stop()
	cancel()
	<-done
}

type failingHandler struct {
	role string
	err  error
}

func (f failingHandler) Role() string { return f.role }

func (f failingHandler) Handle(context.Context, *domain.Exception, *domain.PlaybookProgress, eventlog.Envelope, *config.Snapshot) (roles.Delta, error) {
	return roles.Delta{}, f.err
}

func TestRuntimeDivertsPermanentFailureToDLQWithProcessingErrorEvent(t *testing.T) {
	log := memory.New()
	st := store.NewMem()

	consumer, err := log.Consumer(context.Background(), "triage.completed", "triage-workers", "w1")
	require.NoError(t, err)

	cause := errors.New("normalized payload is not valid JSON")
	rt := New(failingHandler{role: "triage", err: classify.Permanent{Err: cause}}, "triage.completed", consumer, log, st, nil)
	rt.Concurrency = 1

	require.NoError(t, log.Publish(context.Background(), "triage.completed", eventlog.Envelope{
		EventID: "e2", EventType: "TriageCompleted", TenantID: "t1", ExceptionID: "exc-2", Payload: map[string]any{},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = rt.Run(ctx)
		close(done)
	}()

	var events []domain.Event
	assert.Eventually(t, func() bool {
		events, err = st.ListEvents(context.Background(), domain.Identity{TenantID: "t1", ExceptionID: "exc-2"})
		return err == nil && len(events) > 0
	}, time.Second, 10*time.Millisecond)

	rt.Stop()
	cancel()
	<-done

	require.Len(t, events, 1)
	assert.Equal(t, "ProcessingError", events[0].EventType)

	var payload domain.ProcessingErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, domain.ErrorPermanent, payload.Kind)
	assert.Equal(t, cause.Error(), payload.Message)
}

func TestRuntimeReadyReflectsLifecycle(t *testing.T) {
	log := memory.New()
	st := store.NewMem()
	consumer, err := log.Consumer(context.Background(), "t", "g", "w1")
	require.NoError(t, err)

	rt := New(echoHandler{role: "triage"}, "t", consumer, log, st, nil)
	assert.False(t, rt.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rt.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return rt.Lifecycle() == LifecycleRunning }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, LifecycleStopped, rt.Lifecycle())
}
