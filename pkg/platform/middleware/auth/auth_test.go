package auth

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/requestcontext"
)

type stubValidator map[string]*Claims

func (s stubValidator) ValidateToken(token string) (*Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRequireSubject(t *testing.T) {
	subjectID := domain.NewSubjectID()
	operatorID := domain.NewOperatorID()
	validator := stubValidator{
		"subject-token": {
			Kind:    requestcontext.KindSubject,
			ID:      subjectID.String(),
			Address: "0x00000000000000000000000000000000000000aa",
		},
		"operator-token": {Kind: requestcontext.KindOperator, ID: operatorID.String(), Role: "responder"},
		"broken-token":   {Kind: requestcontext.KindSubject, ID: "nope"},
	}

	var seen requestcontext.Caller
	h := RequireSubject(validator, newLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestcontext.Principal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing header is unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer junk")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("operator token is forbidden on subject routes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer operator-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed claims are unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer broken-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid subject token populates principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer subject-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, seen.IsSubject())
		assert.Equal(t, subjectID, seen.SubjectID)
	})
}

func TestRequireOperatorQuery(t *testing.T) {
	operatorID := domain.NewOperatorID()
	validator := stubValidator{
		"operator-token": {Kind: requestcontext.KindOperator, ID: operatorID.String(), Role: "responder"},
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("query token accepted for websocket routes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireOperatorQuery(validator, newLogger())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token=operator-token", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("query token ignored on header-only routes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireOperator(validator, newLogger())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?token=operator-token", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
