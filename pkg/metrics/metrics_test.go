package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDeliveryIncrementsCounterAndHistogram(t *testing.T) {
	RecordDelivery("step", "committed", 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(deliveriesProcessed.WithLabelValues("step", "committed")))
}

func TestRecordCASRetryIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(casRetries.WithLabelValues("policy"))
	RecordCASRetry("policy")
	assert.Equal(t, before+1, testutil.ToFloat64(casRetries.WithLabelValues("policy")))
}

func TestRecordDLQDiversionLabelsByKind(t *testing.T) {
	RecordDLQDiversion("tool", "permanent")
	assert.Equal(t, float64(1), testutil.ToFloat64(dlqDiversions.WithLabelValues("tool", "permanent")))
}

func TestRecordBreakerStateSetsGauge(t *testing.T) {
	RecordBreakerState("worker:intake", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(breakerState.WithLabelValues("worker:intake")))
	RecordBreakerState("worker:intake", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(breakerState.WithLabelValues("worker:intake")))
}

func TestRecordToolInvocationLabelsByOutcome(t *testing.T) {
	RecordToolInvocation("restart-pod", "success", 50*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(toolInvocations.WithLabelValues("restart-pod", "success")))
}

func TestRecordSLAEmissionLabelsByKind(t *testing.T) {
	RecordSLAEmission("imminent")
	assert.Equal(t, float64(1), testutil.ToFloat64(slaEmissions.WithLabelValues("imminent")))
}

func TestRecordNotificationResultReflectsError(t *testing.T) {
	RecordNotification("escalated", nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(notificationsSent.WithLabelValues("escalated", "ok")))

	RecordNotification("dlq", errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(notificationsSent.WithLabelValues("dlq", "error")))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	assert.NotNil(t, Handler())
}
