package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sentinel-sos/pkg/platform/httputil"
	"sentinel-sos/pkg/requestcontext"
)

type Store interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Classifier maps a request to its budget. ok=false means unlimited.
type Classifier func(r *http.Request) (class EndpointClass, ok bool)

type Middleware struct {
	store    Store
	limits   map[EndpointClass]Limit
	logger   *slog.Logger
	rejected *prometheus.CounterVec
}

func NewMiddleware(store Store, limits map[EndpointClass]Limit, logger *slog.Logger, reg prometheus.Registerer) *Middleware {
	return &Middleware{
		store:  store,
		limits: limits,
		logger: logger,
		rejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ratelimit_rejected_total",
			Help: "Requests rejected by the per-IP rate limiter, by endpoint class",
		}, []string{"class"}),
	}
}

// Limit enforces per-IP budgets for the classes classify returns. A store
// failure lets the request through.
func (m *Middleware) Limit(classify Classifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, ok := classify(r)
			limit, configured := m.limits[class]
			if !ok || !configured || limit.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			result, err := m.store.Allow(ctx, string(class)+":"+ip, limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				m.rejected.WithLabelValues(string(class)).Inc()
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", class,
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "Too many requests. Please try again later.",
					RetryAfter: result.RetryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
