package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: incident
	// creation, decryption of a sealed report, resolution.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring:
	// login failures, identity mismatches, tamper detections.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	Action     string
	ActorID    string
	ActorKind  string
	Subject    string // wallet address or operator username
	IncidentID string
	TxRef      string
	Decision   string
	Reason     string
	IP         string
	RequestID  string
}

type AuditEvent string

const (
	// Subject events
	EventSubjectRegistered AuditEvent = "subject_registered"
	EventLoginSucceeded    AuditEvent = "login_succeeded"
	EventLoginFailed       AuditEvent = "login_failed"
	EventLocationUpdated   AuditEvent = "location_updated"

	// Operator events
	EventOperatorLogin       AuditEvent = "operator_login"
	EventOperatorLoginFailed AuditEvent = "operator_login_failed"

	// Incident events
	EventIncidentCreated   AuditEvent = "incident_created"
	EventIncidentRejected  AuditEvent = "incident_rejected"
	EventIncidentDecrypted AuditEvent = "incident_decrypted"
	EventDecryptFailed     AuditEvent = "incident_decrypt_failed"
	EventIncidentResolved  AuditEvent = "incident_resolved"

	// Notifier events
	EventSessionEvicted AuditEvent = "notifier_session_evicted"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventSubjectRegistered: CategoryCompliance,
	EventIncidentCreated:   CategoryCompliance,
	EventIncidentDecrypted: CategoryCompliance,
	EventIncidentResolved:  CategoryCompliance,

	EventLoginFailed:         CategorySecurity,
	EventOperatorLoginFailed: CategorySecurity,
	EventIncidentRejected:    CategorySecurity,
	EventDecryptFailed:       CategorySecurity,

	EventLoginSucceeded:  CategoryOperations,
	EventOperatorLogin:   CategoryOperations,
	EventLocationUpdated: CategoryOperations,
	EventSessionEvicted:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByActor(ctx context.Context, actorID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
