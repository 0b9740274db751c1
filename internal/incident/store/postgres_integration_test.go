//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)

	contract := &StoreContractSuite{}
	contract.newStore = func() (incidentStore, func()) {
		if err := pg.TruncateTables(context.Background(), "incidents", "subjects"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewPostgres(pg.DB), func() {}
	}
	contract.ensureSubject = func(id domain.SubjectID) {
		_, err := pg.DB.ExecContext(context.Background(), `
			INSERT INTO subjects (id, address, encrypted_credentials, credential_hash, last_latitude, last_longitude, created_at, updated_at)
			VALUES ($1, $2, '{}', '0x00', 0, 0, $3, $3)
			ON CONFLICT (id) DO NOTHING
		`, uuid.UUID(id), "0x"+uuid.UUID(id).String()[:8]+"00000000000000000000000000000000", time.Now())
		if err != nil {
			t.Fatalf("insert subject: %v", err)
		}
	}
	suite.Run(t, contract)
}
