// Package domain holds typed identifiers shared across modules. Distinct types
// keep a subject id from being passed where an incident id is expected.
package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "sentinel-sos/pkg/domain-errors"
)

type (
	SubjectID  uuid.UUID
	IncidentID uuid.UUID
	OperatorID uuid.UUID
)

func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id SubjectID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id IncidentID) String() string { return uuid.UUID(id).String() }
func (id IncidentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id OperatorID) String() string { return uuid.UUID(id).String() }
func (id OperatorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id SubjectID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id IncidentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id OperatorID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }

func (id *SubjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseSubjectID(string(b))
	*id = parsed
	return err
}

func (id *IncidentID) UnmarshalText(b []byte) error {
	parsed, err := ParseIncidentID(string(b))
	*id = parsed
	return err
}

func NewSubjectID() SubjectID   { return SubjectID(uuid.New()) }
func NewIncidentID() IncidentID { return IncidentID(uuid.New()) }
func NewOperatorID() OperatorID { return OperatorID(uuid.New()) }

func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

// ParseSubjectID parses and validates a subject id at a trust boundary.
func ParseSubjectID(raw string) (SubjectID, error) {
	u, err := parseUUID(raw, "subject id")
	return SubjectID(u), err
}

// ParseIncidentID parses and validates an incident id at a trust boundary.
func ParseIncidentID(raw string) (IncidentID, error) {
	u, err := parseUUID(raw, "incident id")
	return IncidentID(u), err
}

// ParseOperatorID parses and validates an operator id at a trust boundary.
func ParseOperatorID(raw string) (OperatorID, error) {
	u, err := parseUUID(raw, "operator id")
	return OperatorID(u), err
}

// Address is a ledger account address, always stored lower-cased with the 0x
// prefix so string comparison is identity comparison.
type Address string

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// ParseAddress normalizes and validates a 20-byte hex address.
func ParseAddress(raw string) (Address, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address is required")
	}
	if !strings.HasPrefix(normalized, "0x") {
		normalized = "0x" + normalized
	}
	if !addressPattern.MatchString(normalized) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid address")
	}
	return Address(normalized), nil
}

func (a Address) String() string { return string(a) }

// Equal compares two addresses regardless of how they were cased on input.
func (a Address) Equal(other Address) bool {
	return strings.EqualFold(string(a), string(other))
}
