//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sentinel-sos/pkg/platform/sentinel"
	txcontext "sentinel-sos/pkg/platform/tx"
	"sentinel-sos/pkg/testutil/containers"
)

func TestPostgresSubjectStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)

	suite.Run(t, &SubjectStoreSuite{newStore: func() subjectStore {
		require.NoError(t, pg.TruncateTables(context.Background(), "incidents", "subjects"))
		return NewPostgres(pg.DB)
	}})
}

func TestPostgresSubjectStoreHonoursTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	require.NoError(t, pg.TruncateTables(context.Background(), "incidents", "subjects"))
	store := NewPostgres(pg.DB)
	helper := &SubjectStoreSuite{}
	subject := helper.newSubject()

	tx, err := pg.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	ctx := txcontext.WithTx(context.Background(), tx)
	require.NoError(t, store.Create(ctx, subject))

	_, err = store.FindByID(ctx, subject.ID)
	require.NoError(t, err, "visible inside the transaction")
	require.NoError(t, tx.Rollback())

	_, err = store.FindByID(context.Background(), subject.ID)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
