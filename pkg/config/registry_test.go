package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/domain"
)

const samplePack = `
domain: payments
policies:
  - rule_id: high-sev
    when: 'severity == "HIGH"'
    playbook_id: escalate-payment
    priority: 10
playbooks:
  - playbook_id: escalate-payment
    version: 1
    steps:
      - step_order: 1
        name: notify-oncall
        action_type: tool
        action_config:
          tool_id: slack-notify
sla_rules:
  - rule_id: default
    when: "true"
    deadline_minutes: 60
tools:
  - tool_id: slack-notify
    transport: http
    url: https://tools.internal/slack
`

func newTestRegistry(t *testing.T, body string) (*Registry, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	fetcher := NewFetcher(srv.URL, "")
	return NewRegistry(fetcher, time.Hour), &hits
}

func TestRegistryResolve(t *testing.T) {
	reg, hits := newTestRegistry(t, samplePack)
	id := domain.SnapshotID{TenantID: "acme", Domain: "payments", Version: 1}

	snap, err := reg.Resolve(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, snap.Playbooks, "escalate-payment")
	assert.Equal(t, 1, snap.Playbooks["escalate-payment"].TotalSteps())
	assert.Len(t, snap.Policies, 1)
	assert.Equal(t, "slack-notify", snap.Tools["slack-notify"].ToolID)

	_, err = reg.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, *hits, "second resolve should be served from cache")
}

func TestRegistryInvalidatePublished(t *testing.T) {
	reg, hits := newTestRegistry(t, samplePack)
	id := domain.SnapshotID{TenantID: "acme", Domain: "payments", Version: 1}

	_, err := reg.Resolve(context.Background(), id)
	require.NoError(t, err)
	reg.InvalidatePublished("acme", "payments")

	_, err = reg.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, *hits, "invalidation should force a re-fetch")
}

func TestLoadMergesOverDefaults(t *testing.T) {
	pack, err := Load([]byte("domain: payments\n"))
	require.NoError(t, err)
	require.Len(t, pack.SLARules, 1)
	assert.Equal(t, "default", pack.SLARules[0].RuleID)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	pack, err := Load([]byte("domain: payments\nbogus_field: true\n"))
	require.NoError(t, err) // unknown top-level YAML keys are silently dropped by yaml.Unmarshal into Pack
	require.NoError(t, Validate(pack))
}

func TestValidateRejectsMissingPlaybookSteps(t *testing.T) {
	pack, err := Load([]byte(`
domain: payments
playbooks:
  - playbook_id: empty
    version: 1
    steps: []
`))
	require.NoError(t, err)
	assert.Error(t, Validate(pack))
}
