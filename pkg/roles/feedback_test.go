package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
)

func resolvedException() *domain.Exception {
	pbID := "pb-restart"
	return &domain.Exception{
		TenantID: "t1", ExceptionID: "exc-1",
		Status: domain.StatusResolved, CurrentStage: domain.StageFeedback,
		CurrentPlaybookID: &pbID,
	}
}

func TestFeedbackHandleCorrectVerdictLeavesStateUnchanged(t *testing.T) {
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1",
		Payload: encodePayload(FeedbackCapturedPayload{Verdict: VerdictCorrect, ActorID: "operator-1"})}

	delta, err := Feedback{}.Handle(context.Background(), resolvedException(), nil, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, delta.Exception.Status)
	assert.Empty(t, delta.Outbound)
	require.Len(t, delta.Events, 1)
}

func TestFeedbackHandleIncorrectVerdictReopensPolicy(t *testing.T) {
	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1",
		Payload: encodePayload(FeedbackCapturedPayload{Verdict: VerdictIncorrect, ActorID: "operator-1"})}

	delta, err := Feedback{}.Handle(context.Background(), resolvedException(), nil, ev, nil)
	require.NoError(t, err)

	require.NotNil(t, delta.Exception)
	assert.Equal(t, domain.StagePolicy, delta.Exception.CurrentStage)
	assert.Equal(t, domain.StatusInProgress, delta.Exception.Status)
	assert.Nil(t, delta.Exception.CurrentPlaybookID)
	require.Len(t, delta.Outbound, 1)
	assert.Equal(t, eventlog.TopicPolicyRequested, delta.Outbound[0].Topic)
}

func TestFeedbackHandleIncorrectVerdictOnTerminalExceptionDoesNotReopen(t *testing.T) {
	exc := resolvedException()
	exc.Status = domain.StatusClosed

	ev := eventlog.Envelope{TenantID: "t1", ExceptionID: "exc-1",
		Payload: encodePayload(FeedbackCapturedPayload{Verdict: VerdictIncorrect, ActorID: "operator-1"})}

	delta, err := Feedback{}.Handle(context.Background(), exc, nil, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, delta.Exception.Status)
	assert.Empty(t, delta.Outbound)
}
