package testutil

import (
	"net/http"

	"sentinel-sos/pkg/domain"
	"sentinel-sos/pkg/requestcontext"
)

// AsSubject attaches a subject principal to req, as the auth middleware would
// after validating a subject token.
func AsSubject(req *http.Request, id domain.SubjectID, address domain.Address) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), requestcontext.SubjectPrincipal(id, address))
	return req.WithContext(ctx)
}

// AsOperator attaches an operator principal to req.
func AsOperator(req *http.Request, id domain.OperatorID, role string) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), requestcontext.OperatorPrincipal(id, role))
	return req.WithContext(ctx)
}

// WithRequestID sets the request id read by handlers and audit.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
