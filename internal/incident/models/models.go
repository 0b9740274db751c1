package models

import (
	"encoding/json"
	"strings"
	"time"

	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusResolved
}

// ParseStatus accepts the query-string form of a status filter.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "status must be active or resolved")
	}
	return s, nil
}

// LedgerProof ties an incident to the event that anchored it. Every field is
// copied from the verified ledger event or computed from the stored packet.
type LedgerProof struct {
	IncidentID  string `json:"incidentId"`
	TxRef       string `json:"txRef"`
	PayloadHash string `json:"payloadHash"`
}

// Incident is an SOS raised by a subject.
//
// Invariants:
//   - SealedPacket and LedgerProof never change after creation
//   - Status moves active -> resolved once; ResolvedAt is set with it
type Incident struct {
	ID             domain.IncidentID `json:"id"`
	SubjectID      domain.SubjectID  `json:"subjectId"`
	SubjectAddress domain.Address    `json:"walletAddress,omitempty"`
	Location       domain.Location   `json:"location"`
	IncidentType   string            `json:"incidentType"`
	Description    string            `json:"description"`
	Status         Status            `json:"status"`
	SealedPacket   string            `json:"sealedPacket"`
	LedgerProof    LedgerProof       `json:"ledgerProof"`
	CreatedAt      time.Time         `json:"createdAt"`
	ResolvedAt     *time.Time        `json:"resolvedAt,omitempty"`
	ResolutionNote string            `json:"resolutionNote,omitempty"`
}

func (i *Incident) IsActive() bool {
	return i.Status == StatusActive
}

// Resolve moves the incident to resolved. It reports false when the incident
// was already resolved, leaving the first resolution untouched.
func (i *Incident) Resolve(now time.Time, note string) bool {
	if i.Status == StatusResolved {
		return false
	}
	i.Status = StatusResolved
	resolvedAt := now
	i.ResolvedAt = &resolvedAt
	i.ResolutionNote = note
	return true
}

const (
	maxIncidentTypeLen = 64
	maxDescriptionLen  = 4096
)

// SubmitRequest is the body of POST /api/sos. TxHash is accepted as an alias
// of TxRef for older clients.
type SubmitRequest struct {
	TxRef         string           `json:"txRef"`
	TxHash        string           `json:"txHash"`
	ReportHash    string           `json:"reportHash"`
	Location      *domain.Location `json:"location"`
	IncidentType  string           `json:"incidentType"`
	Description   string           `json:"description"`
	EncryptedData json.RawMessage  `json:"encryptedData"`
}

func (r *SubmitRequest) Normalize() {
	r.TxRef = strings.TrimSpace(r.TxRef)
	if r.TxRef == "" {
		r.TxRef = strings.TrimSpace(r.TxHash)
	}
	r.ReportHash = strings.TrimSpace(r.ReportHash)
	r.IncidentType = strings.TrimSpace(r.IncidentType)
	r.Description = strings.TrimSpace(r.Description)
}

func (r *SubmitRequest) Validate() error {
	switch {
	case r.TxRef == "":
		return dErrors.New(dErrors.CodeValidation, "txRef is required")
	case r.Location == nil:
		return dErrors.New(dErrors.CodeValidation, "location is required")
	case r.IncidentType == "":
		return dErrors.New(dErrors.CodeValidation, "incidentType is required")
	case len(r.IncidentType) > maxIncidentTypeLen:
		return dErrors.New(dErrors.CodeValidation, "incidentType is too long")
	case len(r.Description) > maxDescriptionLen:
		return dErrors.New(dErrors.CodeValidation, "description is too long")
	case len(r.EncryptedData) == 0 || string(r.EncryptedData) == "null":
		return dErrors.New(dErrors.CodeValidation, "encryptedData is required")
	}
	return r.Location.Validate()
}

type ResolveRequest struct {
	ResolutionNote string `json:"resolutionNote"`
}

// ListFilter narrows incident history. A nil Status lists everything.
type ListFilter struct {
	Status *Status
}

// SafetyStatus is derived, never stored.
type SafetyStatus string

const (
	SafetySafe     SafetyStatus = "Safe"
	SafetyInDanger SafetyStatus = "In Danger"
)

// SubjectStatus is one row of the operator status board.
type SubjectStatus struct {
	SubjectID    domain.SubjectID `json:"id"`
	Address      domain.Address   `json:"walletAddress"`
	LastLocation domain.Location  `json:"lastLocation"`
	CreatedAt    time.Time        `json:"createdAt"`
	Status       SafetyStatus     `json:"status"`
}

// DashboardStats are the counters shown on the operator dashboard.
type DashboardStats struct {
	RegisteredSubjects int `json:"activeUsers"`
	ActiveIncidents    int `json:"activeSOS"`
}

// DecryptResponse is returned by the decrypt endpoint.
type DecryptResponse struct {
	Success bool   `json:"success"`
	Report  string `json:"report"`
}
