package ratelimit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-sos/pkg/platform/middleware/metadata"
	"sentinel-sos/pkg/requestcontext"
)

func TestMemoryStoreSlidingWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	limit := Limit{Requests: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := store.Allow(ctx, "k", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := store.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.RetryAfter)

	res, err = store.Allow(ctx, "other", limit)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "keys are independent")

	now = now.Add(61 * time.Second)
	res, err = store.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	_, _ = store.Allow(context.Background(), "k", Limit{Requests: 1, Window: time.Second})
	assert.Equal(t, 0, store.Sweep())
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, store.Sweep())
}

func TestMiddlewareLimitsByClassAndIP(t *testing.T) {
	m := NewMiddleware(NewMemoryStore(),
		map[EndpointClass]Limit{ClassAuth: {Requests: 1, Window: time.Minute}},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		prometheus.NewRegistry(),
	)
	classify := func(r *http.Request) (EndpointClass, bool) {
		if strings.HasPrefix(r.URL.Path, "/api/auth/") {
			return ClassAuth, true
		}
		return "", false
	}
	h := m.Limit(classify)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "", ""))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("/api/auth/nonce/0xabc", "10.0.0.1").Code)
	rec := do("/api/auth/nonce/0xabc", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusNoContent, do("/api/auth/nonce/0xabc", "10.0.0.2").Code)
	assert.Equal(t, http.StatusNoContent, do("/api/sos", "10.0.0.1").Code, "unclassified routes are unlimited")
}

func TestMiddlewareIgnoresSpoofedForwardingHeaders(t *testing.T) {
	m := NewMiddleware(NewMemoryStore(),
		map[EndpointClass]Limit{ClassSubmit: {Requests: 2, Window: time.Minute}},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		prometheus.NewRegistry(),
	)
	submit := func(*http.Request) (EndpointClass, bool) { return ClassSubmit, true }
	h := metadata.ClientMetadata()(m.Limit(submit)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/sos", nil)
		req.RemoteAddr = "198.51.100.20:50000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}
