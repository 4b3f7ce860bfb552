package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

type fakeInvoker struct {
	output map[string]any
	err    error
}

func (f fakeInvoker) Invoke(_ context.Context, _ config.ToolYAML, _ map[string]any) (map[string]any, error) {
	return f.output, f.err
}

func toolSnapshot() *config.Snapshot {
	return &config.Snapshot{Tools: map[string]config.ToolYAML{
		"kube-restart": {ToolID: "kube-restart", Transport: "stdio", Command: "kube-restart-tool"},
	}}
}

func TestToolHandleSuccessEmitsToolCompleted(t *testing.T) {
	tool := Tool{Invoker: fakeInvoker{output: map[string]any{"restarted": true}}}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventID: "ev-1", Attempt: 1,
		Payload: encodePayload(ToolRequestedPayload{PlaybookID: "pb-restart", StepOrder: 1, ToolID: "kube-restart", Input: map[string]any{"pod": "x"}})}

	delta, err := tool.Handle(context.Background(), &domain.Exception{TenantID: "t1", ExceptionID: "exc-1"}, nil, ev, toolSnapshot())
	require.NoError(t, err)

	require.Len(t, delta.ToolExecutions, 1)
	assert.Equal(t, domain.ToolSucceeded, delta.ToolExecutions[0].Status)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicToolCompleted, delta.Outbound[0].Topic)
}

func TestToolHandleFailureReportsSuccessFalse(t *testing.T) {
	tool := Tool{Invoker: fakeInvoker{err: errors.New("connection refused")}}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", EventID: "ev-2",
		Payload: encodePayload(ToolRequestedPayload{PlaybookID: "pb-restart", StepOrder: 1, ToolID: "kube-restart"})}

	delta, err := tool.Handle(context.Background(), &domain.Exception{TenantID: "t1", ExceptionID: "exc-1"}, nil, ev, toolSnapshot())
	require.NoError(t, err, "a failed tool invocation is a successful Handle call, not a Go error")

	require.Len(t, delta.ToolExecutions, 1)
	assert.Equal(t, domain.ToolFailed, delta.ToolExecutions[0].Status)
	assert.Equal(t, "connection refused", delta.ToolExecutions[0].ErrorMessage)
}

func TestToolHandleUnknownToolIsConfigMissing(t *testing.T) {
	tool := Tool{Invoker: fakeInvoker{}}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1",
		Payload: encodePayload(ToolRequestedPayload{PlaybookID: "pb-restart", StepOrder: 1, ToolID: "does-not-exist"})}

	_, err := tool.Handle(context.Background(), &domain.Exception{TenantID: "t1", ExceptionID: "exc-1"}, nil, ev, toolSnapshot())
	require.Error(t, err)
}
