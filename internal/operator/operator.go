// Package operator authenticates responder staff. Accounts are provisioned
// from configuration at boot; there is no runtime account management.
package operator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sentinel-sos/pkg/attrs"
	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/requestcontext"
)

const DefaultRole = "responder"

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sentinel-placeholder"), bcrypt.DefaultCost)

type Operator struct {
	ID           domain.OperatorID
	Email        string
	PasswordHash []byte
	Role         string
}

// Seed is one configured account.
type Seed struct {
	Email        string
	PasswordHash string
	Role         string
}

type TokenIssuer interface {
	GenerateOperatorToken(id domain.OperatorID, role string, expiresIn time.Duration) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	return nil
}

type LoginResult struct {
	Token string `json:"token"`
}

// Service holds the operator directory and issues operator tokens.
type Service struct {
	byEmail        map[string]*Operator
	tokens         TokenIssuer
	tokenTTL       time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// New builds the directory from seeds. A seed whose hash is not a bcrypt hash
// is a configuration error.
func New(seeds []Seed, tokens TokenIssuer, opts ...Option) (*Service, error) {
	s := &Service{
		byEmail:  make(map[string]*Operator, len(seeds)),
		tokens:   tokens,
		tokenTTL: 12 * time.Hour,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, seed := range seeds {
		email := strings.ToLower(strings.TrimSpace(seed.Email))
		if email == "" {
			return nil, dErrors.New(dErrors.CodeConfiguration, "operator email is required")
		}
		if _, err := bcrypt.Cost([]byte(seed.PasswordHash)); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "operator "+email+" has an invalid password hash")
		}
		role := seed.Role
		if role == "" {
			role = DefaultRole
		}
		s.byEmail[email] = &Operator{
			ID:           domain.NewOperatorID(),
			Email:        email,
			PasswordHash: []byte(seed.PasswordHash),
			Role:         role,
		}
	}
	return s, nil
}

// Count reports how many operators are provisioned.
func (s *Service) Count() int {
	return len(s.byEmail)
}

// Login checks the password and issues an operator token. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	op, ok := s.byEmail[req.Email]
	hash := dummyHash
	if ok {
		hash = op.PasswordHash
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || !ok {
		s.logAudit(ctx, audit.EventOperatorLoginFailed, "subject", req.Email, "reason", "invalid_credentials")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}

	token, err := s.tokens.GenerateOperatorToken(op.ID, op.Role, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logAudit(ctx, audit.EventOperatorLogin, "actor_id", op.ID.String(), "subject", op.Email)
	return &LoginResult{Token: token}, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(event),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
		ActorKind: string(requestcontext.KindOperator),
		Subject:   attrs.ExtractString(attributes, "subject"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
}
