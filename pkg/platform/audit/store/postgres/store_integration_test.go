//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/testutil/containers"
)

func TestStoreAppendAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()
	require.NoError(t, pg.TruncateTables(ctx, "audit_events"))
	store := New(pg.DB)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Action: string(audit.EventLoginSucceeded), ActorID: "subject-1", Timestamp: base},
		{Action: string(audit.EventIncidentCreated), ActorID: "subject-1", IncidentID: "inc-1", TxRef: "0xab", Timestamp: base.Add(time.Minute)},
		{Action: string(audit.EventIncidentDecrypted), ActorID: "operator-1", IncidentID: "inc-1", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		require.NoError(t, store.Append(ctx, e))
	}

	byActor, err := store.ListByActor(ctx, "subject-1")
	require.NoError(t, err)
	require.Len(t, byActor, 2)
	assert.Equal(t, string(audit.EventLoginSucceeded), byActor[0].Action)
	assert.Equal(t, audit.CategoryCompliance, byActor[1].Category, "category derived from action")
	assert.Equal(t, "0xab", byActor[1].TxRef)

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}
