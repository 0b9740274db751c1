package admin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "sentinel-sos/pkg/platform/audit"
	auditmemory "sentinel-sos/pkg/platform/audit/store/memory"
	"sentinel-sos/pkg/testutil"
)

func newRouter(t *testing.T) (chi.Router, *auditmemory.InMemoryStore) {
	t.Helper()
	store := auditmemory.NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []audit.AuditEvent{audit.EventLoginSucceeded, audit.EventIncidentCreated, audit.EventIncidentDecrypted} {
		actor := "subject-1"
		if action == audit.EventIncidentDecrypted {
			actor = "operator-1"
		}
		require.NoError(t, store.Append(ctx, audit.Event{
			Category:  action.Category(),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    string(action),
			ActorID:   actor,
		}))
	}
	r := chi.NewRouter()
	New(store, "admin-secret", slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, store
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	return testutil.Serve(r, req)
}

func TestRecentRequiresAdminToken(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin/audit/recent", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin/audit/recent", "wrong").Code)
}

func TestRecent(t *testing.T) {
	r, _ := newRouter(t)

	rr := get(r, "/admin/audit/recent?limit=2", "admin-secret")
	require.Equal(t, http.StatusOK, rr.Code)
	body := testutil.Decode[AuditListResponse](t, rr)
	require.Equal(t, 2, body.Total)
	assert.Equal(t, string(audit.EventIncidentCreated), body.Events[0].Action)
	assert.Equal(t, string(audit.CategoryCompliance), body.Events[1].Category)

	testutil.RequireError(t, get(r, "/admin/audit/recent?limit=zero", "admin-secret"), http.StatusBadRequest, "validation_error")
}

func TestByActor(t *testing.T) {
	r, _ := newRouter(t)

	rr := get(r, "/admin/audit/actors/operator-1", "admin-secret")
	require.Equal(t, http.StatusOK, rr.Code)
	body := testutil.Decode[AuditListResponse](t, rr)
	require.Len(t, body.Events, 1)
	assert.Equal(t, string(audit.EventIncidentDecrypted), body.Events[0].Action)
}
