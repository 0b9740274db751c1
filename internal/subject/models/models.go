package models

import (
	"encoding/json"
	"strings"
	"time"

	"sentinel-sos/pkg/domain"
	dErrors "sentinel-sos/pkg/domain-errors"
)

// Subject is a registered reporting party, keyed by ledger address.
//
// Invariants:
//   - Address is lower-cased 0x hex and unique
//   - EncryptedCredentials is sealed packet text and never changes after
//     registration; CredentialHash is its keccak-256
type Subject struct {
	ID                   domain.SubjectID `json:"id"`
	Address              domain.Address   `json:"walletAddress"`
	EncryptedCredentials string           `json:"-"`
	CredentialHash       string           `json:"credentialHash"`
	LastLocation         domain.Location  `json:"lastLocation"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// RegisterRequest is the registration body. EncryptedCredentials may arrive
// as packet text or as the packet object itself.
type RegisterRequest struct {
	WalletAddress        string           `json:"walletAddress"`
	EncryptedCredentials json.RawMessage  `json:"encryptedCredentials"`
	Location             *domain.Location `json:"location"`
}

func (r *RegisterRequest) Normalize() {
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
}

func (r *RegisterRequest) Validate() error {
	if r.WalletAddress == "" || len(r.EncryptedCredentials) == 0 || r.Location == nil {
		return dErrors.New(dErrors.CodeValidation, "walletAddress, encryptedCredentials and location are required")
	}
	return r.Location.Validate()
}

// LoginRequest carries an EIP-191 signature over the issued nonce message.
type LoginRequest struct {
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
}

func (r *LoginRequest) Validate() error {
	if strings.TrimSpace(r.WalletAddress) == "" || strings.TrimSpace(r.Signature) == "" {
		return dErrors.New(dErrors.CodeValidation, "walletAddress and signature are required")
	}
	return nil
}

// LoginResult is returned on a successful login. Credentials is the
// "credentials" member of the subject's decrypted registration packet.
type LoginResult struct {
	Token       string          `json:"token"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// LocationUpdate is the body of a live location report.
type LocationUpdate struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r *LocationUpdate) ToLocation() (domain.Location, error) {
	if r.Latitude == nil || r.Longitude == nil {
		return domain.Location{}, dErrors.New(dErrors.CodeValidation, "latitude and longitude are required")
	}
	loc := domain.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
	return loc, loc.Validate()
}
