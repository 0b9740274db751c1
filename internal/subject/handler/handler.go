package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sentinel-sos/internal/subject/models"
	dErrors "sentinel-sos/pkg/domain-errors"
	"sentinel-sos/pkg/platform/httputil"
	authmw "sentinel-sos/pkg/platform/middleware/auth"
	"sentinel-sos/pkg/requestcontext"
)

// Service is the subject registry and login flow.
type Service interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.Subject, error)
	IsRegistered(ctx context.Context, address string) (bool, error)
	IssueNonce(ctx context.Context, address string) (string, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error)
	UpdateLocation(ctx context.Context, caller requestcontext.Caller, update *models.LocationUpdate) (*models.Subject, error)
	List(ctx context.Context) ([]*models.Subject, error)
}

type Handler struct {
	service   Service
	validator authmw.TokenValidator
	logger    *slog.Logger
}

func New(service Service, validator authmw.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger}
}

type checkResponse struct {
	IsRegistered bool `json:"isRegistered"`
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

type registerResponse struct {
	Message string          `json:"msg"`
	Subject *models.Subject `json:"subject"`
}

// Register mounts the public auth routes and the authenticated user routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/auth/register", h.HandleRegister)
	r.Get("/api/auth/check/{address}", h.HandleCheck)
	r.Get("/api/auth/nonce/{address}", h.HandleNonce)
	r.Post("/api/auth/login", h.HandleLogin)

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireSubject(h.validator, h.logger))
		r.Post("/api/users/location", h.HandleUpdateLocation)
	})
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireOperator(h.validator, h.logger))
		r.Get("/api/users", h.HandleList)
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	subject, err := h.service.Register(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "subject registration failed",
			"request_id", requestID,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		Message: "Profile created successfully. Please log in.",
		Subject: subject,
	})
}

func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	registered, err := h.service.IsRegistered(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, checkResponse{IsRegistered: registered})
}

func (h *Handler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	message, err := h.service.IssueNonce(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonceResponse{Nonce: message})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.Login(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "subject login failed",
			"request_id", requestID,
			"code", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requestcontext.Principal(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	var update models.LocationUpdate
	if err := httputil.DecodeJSON(r, &update); err != nil {
		httputil.WriteError(w, err)
		return
	}
	subject, err := h.service.UpdateLocation(ctx, caller, &update)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subject)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.service.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list subjects",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subjects)
}
