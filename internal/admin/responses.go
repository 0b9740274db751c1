package admin

import (
	"time"

	audit "sentinel-sos/pkg/platform/audit"
)

// AuditEventResponse is the HTTP response DTO for one audit record.
type AuditEventResponse struct {
	Category   string    `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActorKind  string    `json:"actor_kind,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	IncidentID string    `json:"incident_id,omitempty"`
	TxRef      string    `json:"tx_ref,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// AuditListResponse wraps audit records for HTTP response.
type AuditListResponse struct {
	Events []AuditEventResponse `json:"events"`
	Total  int                  `json:"total"`
}

func toAuditListResponse(events []audit.Event) AuditListResponse {
	out := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEventResponse{
			Category:   string(e.Category),
			Timestamp:  e.Timestamp,
			Action:     e.Action,
			ActorID:    e.ActorID,
			ActorKind:  e.ActorKind,
			Subject:    e.Subject,
			IncidentID: e.IncidentID,
			TxRef:      e.TxRef,
			Reason:     e.Reason,
			RequestID:  e.RequestID,
		})
	}
	return AuditListResponse{Events: out, Total: len(out)}
}
