package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sentinel-sos/internal/incident/models"
	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	"sentinel-sos/pkg/platform/httputil"
	authmw "sentinel-sos/pkg/platform/middleware/auth"
	"sentinel-sos/pkg/requestcontext"
)

// Service is the incident lifecycle the handler drives.
type Service interface {
	Submit(ctx context.Context, caller requestcontext.Caller, req *models.SubmitRequest) (*models.Incident, error)
	Get(ctx context.Context, id domain.IncidentID) (*models.Incident, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Incident, error)
	Resolve(ctx context.Context, operator requestcontext.Caller, id domain.IncidentID, note string) (*models.Incident, error)
	Decrypt(ctx context.Context, operator requestcontext.Caller, id domain.IncidentID) (string, error)
	Stats(ctx context.Context) (*models.DashboardStats, error)
}

// StatusBoard lists derived safety statuses.
type StatusBoard interface {
	ListStatuses(ctx context.Context) ([]models.SubjectStatus, error)
}

// Handler wires incident endpoints to the incident service.
type Handler struct {
	service   Service
	status    StatusBoard
	validator authmw.TokenValidator
	logger    *slog.Logger
}

// New constructs an incident handler.
func New(service Service, status StatusBoard, validator authmw.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		status:    status,
		validator: validator,
		logger:    logger,
	}
}

// Register mounts the incident routes. Submission needs a subject token;
// everything else is for operators.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireSubject(h.validator, h.logger))
		r.Post("/api/sos", h.HandleSubmit)
	})
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireOperator(h.validator, h.logger))
		r.Get("/api/sos", h.HandleList)
		r.Get("/api/sos/{id}", h.HandleGet)
		r.Get("/api/sos/{id}/decrypt", h.HandleDecrypt)
		r.Post("/api/sos/{id}/resolve", h.HandleResolve)
		r.Get("/api/users/status", h.HandleStatuses)
		r.Get("/api/dashboard/stats", h.HandleStats)
	})
}

// HandleSubmit handles POST /api/sos.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req models.SubmitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid incident submission body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	incident, err := h.service.Submit(ctx, caller, &req)
	if err != nil {
		h.logger.WarnContext(ctx, "incident submission rejected",
			"request_id", requestID,
			"subject", caller.Address.String(),
			"tx_ref", req.TxRef,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "incident submitted",
		"request_id", requestID,
		"incident_id", incident.ID.String(),
		"ledger_incident_id", incident.LedgerProof.IncidentID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, incident)
}

// HandleList handles GET /api/sos with an optional ?status= filter.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var filter models.ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Status = &status
	}

	incidents, err := h.service.List(ctx, filter)
	if err != nil {
		h.logError(ctx, "failed to list incidents", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, incidents)
}

// HandleGet handles GET /api/sos/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	incident, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, incident)
}

// HandleDecrypt handles GET /api/sos/{id}/decrypt.
func (h *Handler) HandleDecrypt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	report, err := h.service.Decrypt(ctx, operator, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.DecryptResponse{Success: true, Report: report})
}

// HandleResolve handles POST /api/sos/{id}/resolve. The body is optional.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operator, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.incidentID(w, r)
	if !ok {
		return
	}

	var req models.ResolveRequest
	if err := httputil.DecodeOptionalJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	incident, err := h.service.Resolve(ctx, operator, id, req.ResolutionNote)
	if err != nil {
		h.logError(ctx, "failed to resolve incident", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, incident)
}

// HandleStatuses handles GET /api/users/status.
func (h *Handler) HandleStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.ListStatuses(r.Context())
	if err != nil {
		h.logError(r.Context(), "failed to list subject statuses", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statuses)
}

// HandleStats handles GET /api/dashboard/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logError(r.Context(), "failed to compute dashboard stats", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (requestcontext.Caller, bool) {
	caller, ok := requestcontext.Principal(r.Context())
	if !ok {
		// Only reachable if the route was mounted without auth middleware.
		h.logger.ErrorContext(r.Context(), "principal missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return requestcontext.Caller{}, false
	}
	return caller, true
}

func (h *Handler) incidentID(w http.ResponseWriter, r *http.Request) (domain.IncidentID, bool) {
	id, err := domain.ParseIncidentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.IncidentID{}, false
	}
	return id, true
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
