//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/excproc/pkg/domain"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/test/util"
)

// TestPostgresCommitAndRead exercises the real pgx-backed Store against a
// disposable Postgres instance, covering the one thing the in-memory fake
// can't: that the embedded migrations actually produce a schema Commit can
// write through and GetException can read back.
func TestPostgresCommitAndRead(t *testing.T) {
	st := util.NewTestStore(t)
	ctx := context.Background()
	id := domain.Identity{TenantID: "acme", ExceptionID: "exc-pg-1"}

	err := st.Commit(ctx, store.CommitInput{
		TenantID:    id.TenantID,
		ExceptionID: id.ExceptionID,
		Exception: &domain.Exception{
			TenantID: id.TenantID, ExceptionID: id.ExceptionID,
			SourceSystem: "datadog", ExceptionType: "payment_failure",
			Severity: domain.SeverityHigh, Status: domain.StatusOpen,
			CurrentStage: domain.StageIntake,
		},
		Events: []domain.Event{{
			EventID: "ev-1", TenantID: id.TenantID, ExceptionID: id.ExceptionID,
			EventType: "ExceptionIngested", ActorType: domain.ActorSystem, ActorID: "intake",
		}},
		Outbound: []store.OutboundEnvelope{},
	})
	require.NoError(t, err)

	got, err := st.GetException(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "payment_failure", got.ExceptionType)
	assert.Equal(t, int64(1), got.Version)

	events, err := st.ListEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ExceptionIngested", events[0].EventType)

	// CAS: committing again with a stale expected version must fail.
	err = st.Commit(ctx, store.CommitInput{
		TenantID: id.TenantID, ExceptionID: id.ExceptionID, ExpectedVersion: 0,
		Exception: &domain.Exception{
			TenantID: id.TenantID, ExceptionID: id.ExceptionID,
			Status: domain.StatusEscalated, CurrentStage: domain.StageTriage,
		},
	})
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}
