package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"sentinel-sos/internal/gate"
	"sentinel-sos/internal/sealing"
	"sentinel-sos/internal/subject/metrics"
	"sentinel-sos/internal/subject/models"
	"sentinel-sos/pkg/attrs"
	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/platform/sentinel"
	"sentinel-sos/pkg/requestcontext"
)

// NoncePrefix is the fixed part of every login challenge message.
const NoncePrefix = "Welcome to Sentinel! Please sign this message to log in. Nonce: "

const defaultNonceTTL = 5 * time.Minute

type Store interface {
	Create(ctx context.Context, subject *models.Subject) error
	FindByID(ctx context.Context, id domain.SubjectID) (*models.Subject, error)
	FindByAddress(ctx context.Context, address domain.Address) (*models.Subject, error)
	List(ctx context.Context) ([]*models.Subject, error)
	UpdateLocation(ctx context.Context, id domain.SubjectID, loc domain.Location, at time.Time) (*models.Subject, error)
}

// NonceStore holds one pending challenge per address.
type NonceStore interface {
	Put(ctx context.Context, address domain.Address, message string, ttl time.Duration) error
	Get(ctx context.Context, address domain.Address) (string, error)
	Consume(ctx context.Context, address domain.Address, message string) error
}

type TokenIssuer interface {
	GenerateSubjectToken(id domain.SubjectID, address domain.Address, expiresIn time.Duration) (string, error)
}

type Unsealer interface {
	Unseal(packetText, expectedDigest string) (gate.Payload, error)
}

type Notifier interface {
	NotifyLocationUpdate(subjectID domain.SubjectID, address domain.Address, loc domain.Location)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service registers subjects and authenticates them by signed challenge.
type Service struct {
	subjects       Store
	nonces         NonceStore
	tokens         TokenIssuer
	unsealer       Unsealer
	notifier       Notifier
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	nonceTTL       time.Duration
	tokenTTL       time.Duration
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithNonceTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.nonceTTL = ttl
		}
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func New(subjects Store, nonces NonceStore, tokens TokenIssuer, unsealer Unsealer, opts ...Option) *Service {
	s := &Service{
		subjects: subjects,
		nonces:   nonces,
		tokens:   tokens,
		unsealer: unsealer,
		logger:   slog.Default(),
		nonceTTL: defaultNonceTTL,
		tokenTTL: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores a new subject. The credential packet is kept verbatim and
// its keccak-256 recorded alongside.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.Subject, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	address, err := domain.ParseAddress(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	packetText, err := credentialPacket(req.EncryptedCredentials)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	subject := &models.Subject{
		ID:                   domain.NewSubjectID(),
		Address:              address,
		EncryptedCredentials: packetText,
		CredentialHash:       sealing.PayloadHash(packetText),
		LastLocation:         *req.Location,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.subjects.Create(ctx, subject); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "subject already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register subject")
	}

	if s.metrics != nil {
		s.metrics.Registrations.Inc()
	}
	s.logAudit(ctx, audit.EventSubjectRegistered,
		"actor_id", subject.ID.String(),
		"subject", address.String(),
	)
	return subject, nil
}

// IsRegistered reports whether address belongs to a registered subject.
func (s *Service) IsRegistered(ctx context.Context, rawAddress string) (bool, error) {
	address, err := domain.ParseAddress(rawAddress)
	if err != nil {
		return false, err
	}
	_, err = s.subjects.FindByAddress(ctx, address)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return false, nil
	default:
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up subject")
	}
}

// IssueNonce replaces the address's pending challenge with a fresh one and
// returns the message to sign.
func (s *Service) IssueNonce(ctx context.Context, rawAddress string) (string, error) {
	address, err := domain.ParseAddress(rawAddress)
	if err != nil {
		return "", err
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000_000))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate nonce")
	}
	message := NoncePrefix + n.String()
	if err := s.nonces.Put(ctx, address, message, s.nonceTTL); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store nonce")
	}
	if s.metrics != nil {
		s.metrics.NoncesIssued.Inc()
	}
	return message, nil
}

// Login checks an EIP-191 signature over the address's current challenge and
// issues a subject token. Only the newest challenge validates, and only once.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error) {
	result, err := s.login(ctx, req)
	if err != nil {
		s.incrementLogin(string(dErrors.CodeOf(err)))
		s.logAudit(ctx, audit.EventLoginFailed,
			"subject", req.WalletAddress,
			"reason", string(dErrors.CodeOf(err)),
		)
		return nil, err
	}
	s.incrementLogin("ok")
	return result, nil
}

func (s *Service) login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	address, err := domain.ParseAddress(req.WalletAddress)
	if err != nil {
		return nil, err
	}

	subject, err := s.subjects.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found, please register")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up subject")
	}

	message, err := s.nonces.Get(ctx, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.New(dErrors.CodeValidation, "request a nonce first")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read nonce")
	}

	signer, err := RecoverSigner(message, req.Signature)
	if err != nil {
		return nil, err
	}
	if !signer.Equal(address) {
		return nil, dErrors.New(dErrors.CodeValidation, "signature verification failed")
	}

	credentials := s.openCredentials(ctx, subject)

	if err := s.nonces.Consume(ctx, address, message); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return nil, dErrors.New(dErrors.CodeValidation, "nonce was replaced or already used")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume nonce")
	}

	token, err := s.tokens.GenerateSubjectToken(subject.ID, subject.Address, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logAudit(ctx, audit.EventLoginSucceeded,
		"actor_id", subject.ID.String(),
		"subject", address.String(),
	)
	return &models.LoginResult{Token: token, Credentials: credentials}, nil
}

// openCredentials returns the "credentials" member of the registration
// packet. Login still succeeds without it.
func (s *Service) openCredentials(ctx context.Context, subject *models.Subject) json.RawMessage {
	if s.unsealer == nil {
		return nil
	}
	payload, err := s.unsealer.Unseal(subject.EncryptedCredentials, subject.CredentialHash)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to open registration credentials",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", subject.ID.String(),
			"code", dErrors.CodeOf(err),
		)
		return nil
	}
	var envelope struct {
		Credentials json.RawMessage `json:"credentials"`
	}
	if err := payload.Decode(&envelope); err != nil || len(envelope.Credentials) == 0 {
		return json.RawMessage(payload)
	}
	return envelope.Credentials
}

// UpdateLocation records the caller's live position and pushes it to
// connected operators.
func (s *Service) UpdateLocation(ctx context.Context, caller requestcontext.Caller, update *models.LocationUpdate) (*models.Subject, error) {
	if !caller.IsSubject() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "subject authentication required")
	}
	loc, err := update.ToLocation()
	if err != nil {
		return nil, err
	}
	subject, err := s.subjects.UpdateLocation(ctx, caller.SubjectID, loc, requestcontext.Now(ctx).UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update location")
	}
	if s.metrics != nil {
		s.metrics.LocationUpdates.Inc()
	}
	s.logAudit(ctx, audit.EventLocationUpdated,
		"actor_id", subject.ID.String(),
		"subject", subject.Address.String(),
	)
	if s.notifier != nil {
		s.notifier.NotifyLocationUpdate(subject.ID, subject.Address, subject.LastLocation)
	}
	return subject, nil
}

// List returns every registered subject.
func (s *Service) List(ctx context.Context) ([]*models.Subject, error) {
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list subjects")
	}
	return subjects, nil
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message. Wallets emit V as 27/28; both that and 0/1 are
// accepted.
func RecoverSigner(message, signature string) (domain.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", dErrors.New(dErrors.CodeValidation, "signature must be 65 bytes of 0x hex")
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "signature verification failed")
	}
	return domain.ParseAddress(crypto.PubkeyToAddress(*pub).Hex())
}

// credentialPacket accepts packet text or a packet object and returns the
// text to store.
func credentialPacket(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if _, err := sealing.ParsePacket(text); err != nil {
			return "", err
		}
		return text, nil
	}
	packet, err := sealing.ParsePacket(string(raw))
	if err != nil {
		return "", fmt.Errorf("encryptedCredentials: %w", err)
	}
	return packet.Serialize(), nil
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
		ActorKind: string(requestcontext.KindSubject),
		Subject:   attrs.ExtractString(attributes, "subject"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
}

func (s *Service) incrementLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}
