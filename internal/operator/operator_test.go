package operator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	jwttoken "sentinel-sos/internal/jwt_token"
	dErrors "sentinel-sos/pkg/domain-errors"
	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/requestcontext"
	"sentinel-sos/pkg/testutil"
)

type recordingAudit struct {
	events []audit.Event
}

func (r *recordingAudit) Emit(_ context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func newService(t *testing.T, publisher AuditPublisher) (*Service, *jwttoken.JWTService) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	tokens := jwttoken.NewJWTService("test-key", "sentinel-sos", "sentinel-api")
	svc, err := New([]Seed{{Email: "Duty@Police.example", PasswordHash: string(hash)}}, tokens,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(publisher),
	)
	require.NoError(t, err)
	return svc, tokens
}

func TestNewRejectsPlaintextHash(t *testing.T) {
	_, err := New([]Seed{{Email: "a@b.c", PasswordHash: "hunter2"}}, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestLogin(t *testing.T) {
	publisher := &recordingAudit{}
	svc, tokens := newService(t, publisher)
	assert.Equal(t, 1, svc.Count())

	result, err := svc.Login(context.Background(), &LoginRequest{Email: " duty@police.example ", Password: "correct horse"})
	require.NoError(t, err)
	claims, err := tokens.ValidateToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, string(requestcontext.KindOperator), claims.Kind)
	assert.Equal(t, DefaultRole, claims.Role)

	_, err = svc.Login(context.Background(), &LoginRequest{Email: "duty@police.example", Password: "wrong"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	_, err = svc.Login(context.Background(), &LoginRequest{Email: "nobody@police.example", Password: "correct horse"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	require.Len(t, publisher.events, 3)
	assert.Equal(t, string(audit.EventOperatorLogin), publisher.events[0].Action)
	assert.Equal(t, string(audit.EventOperatorLoginFailed), publisher.events[1].Action)
}

func TestHandleLogin(t *testing.T) {
	svc, _ := newService(t, nil)
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	rr := testutil.Serve(r, testutil.JSONRequest(t, http.MethodPost, "/api/operators/login",
		LoginRequest{Email: "duty@police.example", Password: "correct horse"}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, testutil.Decode[LoginResult](t, rr).Token)

	rr = testutil.Serve(r, testutil.JSONRequest(t, http.MethodPost, "/api/operators/login",
		LoginRequest{Email: "duty@police.example", Password: "nope"}))
	testutil.RequireError(t, rr, http.StatusUnauthorized, "unauthorized")

	rr = testutil.Serve(r, testutil.JSONRequest(t, http.MethodPost, "/api/operators/login", `{"email":""}`))
	testutil.RequireError(t, rr, http.StatusBadRequest, "validation_error")

	rr = testutil.Serve(r, testutil.JSONRequest(t, http.MethodPost, "/api/operators/login", `{`))
	testutil.RequireError(t, rr, http.StatusBadRequest, "bad_request")
}
