// Package admin exposes maintenance endpoints guarded by the static admin
// token. They are not part of the responder dashboard.
package admin

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dErrors "sentinel-sos/pkg/domain-errors"
	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/platform/httputil"
	adminmw "sentinel-sos/pkg/platform/middleware/admin"
	"sentinel-sos/pkg/requestcontext"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type Handler struct {
	audit      audit.Lister
	adminToken string
	logger     *slog.Logger
}

func New(lister audit.Lister, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{audit: lister, adminToken: adminToken, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(h.adminToken, h.logger))
		r.Get("/admin/audit/recent", h.HandleRecent)
		r.Get("/admin/audit/actors/{actorID}", h.HandleByActor)
	})
}

// HandleRecent handles GET /admin/audit/recent?limit=.
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	events, err := h.audit.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list recent audit events",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit log"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditListResponse(events))
}

// HandleByActor handles GET /admin/audit/actors/{actorID}.
func (h *Handler) HandleByActor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := h.audit.ListByActor(ctx, chi.URLParam(r, "actorID"))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events by actor",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit log"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuditListResponse(events))
}
