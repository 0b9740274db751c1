package operator

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sentinel-sos/pkg/platform/httputil"
	"sentinel-sos/pkg/requestcontext"
)

type Authenticator interface {
	Login(ctx context.Context, req *LoginRequest) (*LoginResult, error)
}

type Handler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewHandler(auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/operators/login", h.HandleLogin)
}

// HandleLogin handles POST /api/operators/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.auth.Login(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "operator login failed",
			"request_id", requestID,
			"email", req.Email,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
