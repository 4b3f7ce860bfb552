package roles

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

func TestIntakeHandleCreatesExceptionOnFirstDelivery(t *testing.T) {
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(IngestedPayload{
		SourceSystem: "billing", Domain: "payments", ExceptionType: "payment_failed", Severity: "HIGH",
		RawPayload: json.RawMessage(`{"amount":100}`),
	})}

	delta, err := Intake{}.Handle(context.Background(), nil, nil, ev, nil)
	require.NoError(t, err)

	require.NotNil(t, delta.Exception)
	assert.Equal(t, "t1", delta.Exception.TenantID)
	assert.Equal(t, domain.StatusOpen, delta.Exception.Status)
	assert.Equal(t, domain.StageTriage, delta.Exception.CurrentStage)
	assert.Equal(t, domain.SeverityHigh, delta.Exception.Severity)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicExceptionsNormalized, delta.Outbound[0].Topic)
}

func TestIntakeHandleDefaultsMissingSeverityToMedium(t *testing.T) {
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(IngestedPayload{
		SourceSystem: "billing", ExceptionType: "payment_failed",
	})}

	delta, err := Intake{}.Handle(context.Background(), nil, nil, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityMedium, delta.Exception.Severity)
}

func TestIntakeHandleMissingFieldsIsPermanent(t *testing.T) {
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1", Payload: encodePayload(IngestedPayload{})}
	_, err := Intake{}.Handle(context.Background(), nil, nil, ev, nil)
	require.Error(t, err)
}

func TestIntakeHandleRedeliveryReemitsWithoutMutating(t *testing.T) {
	exc := &domain.Exception{TenantID: "t1", ExceptionID: "exc-1", Status: domain.StatusOpen, CurrentStage: domain.StageTriage}
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1"}

	delta, err := Intake{}.Handle(context.Background(), exc, nil, ev, nil)
	require.NoError(t, err)
	assert.Same(t, exc, delta.Exception)
	require.Len(t, delta.Outbound, 1)
}
