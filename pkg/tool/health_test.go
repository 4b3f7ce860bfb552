package tool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestMonitor() *HealthMonitor {
	return &HealthMonitor{statuses: make(map[string]Status)}
}

func TestHealthMonitorAllHealthyWithNoStatuses(t *testing.T) {
	m := newTestMonitor()
	assert.True(t, m.AllHealthy())
}

func TestHealthMonitorRecordAndStatuses(t *testing.T) {
	m := newTestMonitor()
	m.record(Status{ToolID: "kube-restart", Healthy: true, LastCheck: time.Now()})
	m.record(Status{ToolID: "health-check", Healthy: false, Error: "dial failed"})

	statuses := m.Statuses()
	require := assert.New(t)
	require.Len(statuses, 2)
	require.True(statuses["kube-restart"].Healthy)
	require.False(statuses["health-check"].Healthy)
}

func TestHealthMonitorAllHealthyFalseWhenAnyProbeFails(t *testing.T) {
	m := newTestMonitor()
	m.record(Status{ToolID: "a", Healthy: true})
	m.record(Status{ToolID: "b", Healthy: false})
	assert.False(t, m.AllHealthy())
}

func TestHealthMonitorStatusesIsASnapshotCopy(t *testing.T) {
	m := newTestMonitor()
	m.record(Status{ToolID: "a", Healthy: true})
	snap := m.Statuses()
	snap["a"] = Status{ToolID: "a", Healthy: false}
	assert.True(t, m.Statuses()["a"].Healthy, "mutating the returned snapshot must not affect internal state")
}
