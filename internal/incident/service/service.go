package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"sentinel-sos/internal/gate"
	"sentinel-sos/internal/incident/metrics"
	"sentinel-sos/internal/incident/models"
	"sentinel-sos/internal/ledger"
	"sentinel-sos/internal/sealing"
	subjectmodels "sentinel-sos/internal/subject/models"
	"sentinel-sos/pkg/attrs"
	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
	audit "sentinel-sos/pkg/platform/audit"
	"sentinel-sos/pkg/platform/sentinel"
	"sentinel-sos/pkg/requestcontext"
)

var tracer = otel.Tracer("sentinel-sos/internal/incident")

type Store interface {
	Create(ctx context.Context, incident *models.Incident) error
	FindByID(ctx context.Context, id domain.IncidentID) (*models.Incident, error)
	FindByTxRef(ctx context.Context, txRef string) (*models.Incident, error)
	ListBySubject(ctx context.Context, subjectID domain.SubjectID) ([]*models.Incident, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Incident, error)
	Resolve(ctx context.Context, id domain.IncidentID, at time.Time, note string) (*models.Incident, bool, error)
	CountActive(ctx context.Context) (int, error)
	HasActive(ctx context.Context, subjectID domain.SubjectID) (bool, error)
	ActiveSubjects(ctx context.Context) (map[domain.SubjectID]struct{}, error)
}

// SubjectDirectory is the read side of the subject registry.
type SubjectDirectory interface {
	FindByID(ctx context.Context, id domain.SubjectID) (*subjectmodels.Subject, error)
	List(ctx context.Context) ([]*subjectmodels.Subject, error)
	Count(ctx context.Context) (int, error)
}

type Verifier interface {
	VerifyFor(ctx context.Context, txRef string, caller domain.Address) (ledger.Anchor, error)
	CrossCheck(ctx context.Context, anchor ledger.Anchor) (bool, error)
}

type Unsealer interface {
	Unseal(packetText, expectedDigest string) (gate.Payload, error)
}

type Notifier interface {
	NotifyCreated(incident *models.Incident)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns the incident lifecycle: verified submission, history,
// resolution and gated decryption.
type Service struct {
	incidents      Store
	subjects       SubjectDirectory
	verifier       Verifier
	unsealer       Unsealer
	notifier       Notifier
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	crossCheck     bool
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

// WithCounterCrossCheck compares every new anchor with the contract counter
// and logs inconsistencies.
func WithCounterCrossCheck(enabled bool) Option {
	return func(s *Service) {
		s.crossCheck = enabled
	}
}

// New constructs a Service.
func New(incidents Store, subjects SubjectDirectory, verifier Verifier, unsealer Unsealer, opts ...Option) *Service {
	s := &Service{
		incidents: incidents,
		subjects:  subjects,
		verifier:  verifier,
		unsealer:  unsealer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit verifies a claimed incident against the ledger and stores it. The
// incident is written only after the ledger event, the caller identity and
// the payload hash all agree.
func (s *Service) Submit(ctx context.Context, caller requestcontext.Caller, req *models.SubmitRequest) (*models.Incident, error) {
	start := time.Now()
	defer s.observeSubmit(start)
	ctx, span := tracer.Start(ctx, "incident.Submit")
	defer span.End()

	incident, err := s.submit(ctx, caller, req)
	if err != nil {
		code := dErrors.CodeOf(err)
		span.SetStatus(codes.Error, string(code))
		s.incrementRejected(code)
		s.logAudit(ctx, audit.EventIncidentRejected,
			"actor_id", caller.ActorID(),
			"subject", caller.Address.String(),
			"tx_ref", req.TxRef,
			"reason", string(code),
		)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("incident.id", incident.ID.String()),
		attribute.String("ledger.incident_id", incident.LedgerProof.IncidentID),
	)
	return incident, nil
}

func (s *Service) submit(ctx context.Context, caller requestcontext.Caller, req *models.SubmitRequest) (*models.Incident, error) {
	if !caller.IsSubject() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "subject authentication required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	packetText, err := canonicalPacket(req.EncryptedData)
	if err != nil {
		return nil, err
	}
	payloadHash := sealing.PayloadHash(packetText)
	if req.ReportHash != "" && !sealing.HashEqual(req.ReportHash, payloadHash) {
		return nil, dErrors.New(dErrors.CodePayloadHashMismatch, "reportHash does not match encryptedData")
	}

	if existing, err := s.incidents.FindByTxRef(ctx, req.TxRef); err == nil && existing != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "an incident already exists for this transaction")
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing incidents")
	}

	anchor, err := s.verifier.VerifyFor(ctx, req.TxRef, caller.Address)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"tx_ref", req.TxRef,
			"code", dErrors.CodeOf(err),
			"error", err,
		)
		return nil, err
	}
	if !sealing.HashEqual(anchor.PayloadHash, payloadHash) {
		return nil, dErrors.New(dErrors.CodePayloadHashMismatch, "encryptedData does not match the ledger-anchored hash")
	}
	if s.crossCheck {
		if _, err := s.verifier.CrossCheck(ctx, anchor); err != nil {
			s.logger.WarnContext(ctx, "ledger counter cross-check skipped",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
	}

	// A caller that went away during verification must not leave a record.
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled before the incident was stored")
	}

	incident := &models.Incident{
		ID:             domain.NewIncidentID(),
		SubjectID:      caller.SubjectID,
		SubjectAddress: caller.Address,
		Location:       *req.Location,
		IncidentType:   req.IncidentType,
		Description:    req.Description,
		Status:         models.StatusActive,
		SealedPacket:   packetText,
		LedgerProof: models.LedgerProof{
			IncidentID:  anchor.IncidentID,
			TxRef:       anchor.TxRef,
			PayloadHash: payloadHash,
		},
		CreatedAt: requestcontext.Now(ctx).UTC(),
	}
	if err := s.incidents.Create(ctx, incident); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "an incident already exists for this ledger event")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "request cancelled before the incident was stored")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store incident")
		}
	}

	s.incrementCreated()
	s.logAudit(ctx, audit.EventIncidentCreated,
		"actor_id", caller.ActorID(),
		"subject", caller.Address.String(),
		"incident_id", incident.ID.String(),
		"tx_ref", anchor.TxRef,
		"ledger_incident_id", anchor.IncidentID,
	)
	if s.notifier != nil {
		s.notifier.NotifyCreated(incident)
	}
	return incident, nil
}

// Get loads one incident.
func (s *Service) Get(ctx context.Context, id domain.IncidentID) (*models.Incident, error) {
	incident, err := s.incidents.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "incident not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load incident")
	}
	s.attachAddress(ctx, incident)
	return incident, nil
}

// List returns incident history, newest first.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.Incident, error) {
	incidents, err := s.incidents.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list incidents")
	}
	cache := make(map[domain.SubjectID]domain.Address)
	for _, incident := range incidents {
		if incident.SubjectAddress != "" {
			continue
		}
		if addr, ok := cache[incident.SubjectID]; ok {
			incident.SubjectAddress = addr
			continue
		}
		s.attachAddress(ctx, incident)
		cache[incident.SubjectID] = incident.SubjectAddress
	}
	return incidents, nil
}

// Resolve closes an incident. Resolving an already resolved incident returns
// it unchanged.
func (s *Service) Resolve(ctx context.Context, operator requestcontext.Caller, id domain.IncidentID, note string) (*models.Incident, error) {
	incident, changed, err := s.incidents.Resolve(ctx, id, requestcontext.Now(ctx).UTC(), strings.TrimSpace(note))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "incident not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve incident")
	}
	if changed {
		s.incrementResolved()
		s.logAudit(ctx, audit.EventIncidentResolved,
			"actor_id", operator.ActorID(),
			"actor_kind", string(operator.Kind),
			"incident_id", incident.ID.String(),
			"tx_ref", incident.LedgerProof.TxRef,
		)
	}
	s.attachAddress(ctx, incident)
	return incident, nil
}

// Decrypt opens the sealed report of an incident through the gate, bound to
// the ledger-anchored payload hash. Failures never carry plaintext.
func (s *Service) Decrypt(ctx context.Context, operator requestcontext.Caller, id domain.IncidentID) (string, error) {
	start := time.Now()
	defer s.observeDecrypt(start)
	ctx, span := tracer.Start(ctx, "incident.Decrypt")
	defer span.End()

	incident, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	payload, err := s.unsealer.Unseal(incident.SealedPacket, incident.LedgerProof.PayloadHash)
	if err == nil {
		var report string
		report, err = gate.Render(payload)
		if err == nil {
			s.incrementDecryption("ok")
			s.logAudit(ctx, audit.EventIncidentDecrypted,
				"actor_id", operator.ActorID(),
				"actor_kind", string(operator.Kind),
				"incident_id", incident.ID.String(),
				"tx_ref", incident.LedgerProof.TxRef,
			)
			return report, nil
		}
	}

	code := dErrors.CodeOf(err)
	span.SetStatus(codes.Error, string(code))
	s.incrementDecryption(string(code))
	s.logger.ErrorContext(ctx, "failed to decrypt incident report",
		"request_id", requestcontext.RequestID(ctx),
		"incident_id", incident.ID.String(),
		"code", code,
		"error", err,
	)
	s.logAudit(ctx, audit.EventDecryptFailed,
		"actor_id", operator.ActorID(),
		"actor_kind", string(operator.Kind),
		"incident_id", incident.ID.String(),
		"reason", string(code),
	)
	return "", err
}

// Stats returns the dashboard counters.
func (s *Service) Stats(ctx context.Context) (*models.DashboardStats, error) {
	subjects, err := s.subjects.Count(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count subjects")
	}
	active, err := s.incidents.CountActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count active incidents")
	}
	return &models.DashboardStats{RegisteredSubjects: subjects, ActiveIncidents: active}, nil
}

func (s *Service) attachAddress(ctx context.Context, incident *models.Incident) {
	if incident.SubjectAddress != "" || s.subjects == nil {
		return
	}
	subject, err := s.subjects.FindByID(ctx, incident.SubjectID)
	if err != nil {
		return
	}
	incident.SubjectAddress = subject.Address
}

// canonicalPacket returns the exact packet text to hash and store. A JSON
// string is used verbatim; a packet object is serialized canonically.
func canonicalPacket(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		packet, perr := sealing.ParsePacket(string(raw))
		if perr != nil {
			return "", perr
		}
		return packet.Serialize(), nil
	}
	if _, err := sealing.ParsePacket(text); err != nil {
		return "", err
	}
	return text, nil
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
		Action:     string(event),
		ActorID:    attrs.ExtractString(attributes, "actor_id"),
		ActorKind:  attrs.ExtractString(attributes, "actor_kind"),
		Subject:    attrs.ExtractString(attributes, "subject"),
		IncidentID: attrs.ExtractString(attributes, "incident_id"),
		TxRef:      attrs.ExtractString(attributes, "tx_ref"),
		Reason:     attrs.ExtractString(attributes, "reason"),
		IP:         requestcontext.ClientIP(ctx),
		RequestID:  requestcontext.RequestID(ctx),
	})
}

func (s *Service) observeSubmit(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveSubmit(start)
	}
}

func (s *Service) observeDecrypt(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDecrypt(start)
	}
}

func (s *Service) incrementCreated() {
	if s.metrics != nil {
		s.metrics.IncidentsCreated.Inc()
	}
}

func (s *Service) incrementRejected(code dErrors.Code) {
	if s.metrics != nil {
		s.metrics.IncidentsRejected.WithLabelValues(string(code)).Inc()
	}
}

func (s *Service) incrementResolved() {
	if s.metrics != nil {
		s.metrics.IncidentsResolved.Inc()
	}
}

func (s *Service) incrementDecryption(outcome string) {
	if s.metrics != nil {
		s.metrics.Decryptions.WithLabelValues(outcome).Inc()
	}
}
