package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"sentinel-sos/pkg/domain"
	request "sentinel-sos/pkg/platform/middleware/request"
	"sentinel-sos/pkg/requestcontext"
)

// TokenValidator validates bearer tokens issued at login.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims is what the middleware needs from a validated token.
type Claims struct {
	Kind    requestcontext.PrincipalKind
	ID      string
	Address string
	Role    string
	JTI     string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireSubject admits only reporting subjects.
func RequireSubject(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return require(validator, logger, requestcontext.KindSubject, false)
}

// RequireOperator admits only responder operators.
func RequireOperator(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return require(validator, logger, requestcontext.KindOperator, false)
}

// RequireOperatorQuery is RequireOperator for websocket upgrades, where
// browsers cannot set headers and the token travels as ?token=.
func RequireOperatorQuery(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return require(validator, logger, requestcontext.KindOperator, true)
}

func require(validator TokenValidator, logger *slog.Logger, kind requestcontext.PrincipalKind, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := bearerToken(r, allowQuery)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			if claims.Kind != kind {
				logger.WarnContext(ctx, "forbidden - wrong principal kind",
					"want", kind,
					"got", claims.Kind,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Token not valid for this resource")
				return
			}

			caller, err := callerFromClaims(claims)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed claims",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithPrincipal(ctx, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request, allowQuery bool) (string, bool) {
	const bearerPrefix = "Bearer "
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok && after != "" {
		return after, true
	}
	if allowQuery {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
	}
	return "", false
}

func callerFromClaims(c *Claims) (requestcontext.Caller, error) {
	switch c.Kind {
	case requestcontext.KindSubject:
		id, err := domain.ParseSubjectID(c.ID)
		if err != nil {
			return requestcontext.Caller{}, err
		}
		addr, err := domain.ParseAddress(c.Address)
		if err != nil {
			return requestcontext.Caller{}, err
		}
		return requestcontext.SubjectPrincipal(id, addr), nil
	case requestcontext.KindOperator:
		id, err := domain.ParseOperatorID(c.ID)
		if err != nil {
			return requestcontext.Caller{}, err
		}
		return requestcontext.OperatorPrincipal(id, c.Role), nil
	default:
		return requestcontext.Caller{}, fmt.Errorf("unknown principal kind %q", c.Kind)
	}
}
