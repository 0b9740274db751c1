package sealing

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	dErrors "sentinel-sos/pkg/domain-errors"
)

// Packet is the wire form of a sealed payload. Field order matters: Serialize
// must reproduce what sealing clients hash before anchoring.
type Packet struct {
	EncryptedKey  string `json:"encryptedKey"`
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
}

// Serialize renders the canonical compact JSON text of the packet.
func (p *Packet) Serialize() string {
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(p)
	return strings.TrimSuffix(sb.String(), "\n")
}

// ParsePacket decodes packet text and checks every component is base64.
func ParsePacket(text string) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "sealed packet is not valid JSON")
	}
	if p.EncryptedKey == "" || p.IV == "" || p.EncryptedData == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "sealed packet requires encryptedKey, iv and encryptedData")
	}
	for name, v := range map[string]string{"encryptedKey": p.EncryptedKey, "iv": p.IV, "encryptedData": p.EncryptedData} {
		if _, err := base64.StdEncoding.DecodeString(v); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, name+" is not valid base64")
		}
	}
	return &p, nil
}

// PayloadHash is keccak-256 over the exact packet text, 0x-prefixed hex. It
// matches the digest sealing clients anchor on the ledger.
func PayloadHash(text string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(text)))
}

// HashEqual compares two 0x-hex digests case-insensitively.
func HashEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
