// Package requestcontext provides HTTP-independent accessors for request-scoped
// values. Middleware populates them once at the authentication boundary and
// services read them; nothing else attaches ad hoc values to a request.
//
// Usage in services:
//
//	p, ok := requestcontext.Principal(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithPrincipal(ctx, requestcontext.SubjectPrincipal(id, addr))
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"sentinel-sos/pkg/domain"
)

type (
	principalKey   struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	deviceKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// PrincipalKind tells subjects (reporting tourists) apart from operators
// (responder staff).
type PrincipalKind string

const (
	KindSubject  PrincipalKind = "subject"
	KindOperator PrincipalKind = "operator"
)

// Caller is the authenticated identity of a request.
type Caller struct {
	Kind       PrincipalKind
	SubjectID  domain.SubjectID
	Address    domain.Address
	OperatorID domain.OperatorID
	Role       string
}

// SubjectPrincipal builds the caller value for an authenticated subject.
func SubjectPrincipal(id domain.SubjectID, address domain.Address) Caller {
	return Caller{Kind: KindSubject, SubjectID: id, Address: address}
}

// OperatorPrincipal builds the caller value for an authenticated operator.
func OperatorPrincipal(id domain.OperatorID, role string) Caller {
	return Caller{Kind: KindOperator, OperatorID: id, Role: role}
}

// IsSubject reports whether the caller is an authenticated subject.
func (c Caller) IsSubject() bool {
	return c.Kind == KindSubject && !c.SubjectID.IsNil()
}

// IsOperator reports whether the caller is an authenticated operator.
func (c Caller) IsOperator() bool {
	return c.Kind == KindOperator && !c.OperatorID.IsNil()
}

// ActorID renders the caller for audit and log records.
func (c Caller) ActorID() string {
	switch c.Kind {
	case KindSubject:
		return c.SubjectID.String()
	case KindOperator:
		return c.OperatorID.String()
	default:
		return ""
	}
}

// -----------------------------------------------------------------------------
// Auth context
// -----------------------------------------------------------------------------

// Principal retrieves the authenticated caller. ok is false for anonymous
// requests.
func Principal(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(principalKey{}).(Caller)
	return c, ok
}

// WithPrincipal injects the authenticated caller into the context.
func WithPrincipal(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, principalKey{}, c)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, device label)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the raw User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// Device retrieves the parsed "browser/os" label from the context.
func Device(ctx context.Context) string {
	if d, ok := ctx.Value(deviceKey{}).(string); ok {
		return d
	}
	return ""
}

// WithClientMetadata injects client IP, User-Agent and device label.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, device string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	ctx = context.WithValue(ctx, deviceKey{}, device)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time. Falls back to time.Now() outside of
// HTTP requests (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
