// Package gate holds the authority private key and is the only place sealed
// packets are opened.
package gate

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // OAEP label hash for legacy browser clients
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"hash"

	"sentinel-sos/internal/sealing"
	dErrors "sentinel-sos/pkg/domain-errors"
)

// Payload is a decrypted report, kept as raw JSON so nothing is lost in
// translation between sealing clients and responders.
type Payload json.RawMessage

// Gate unseals packets with the process-held authority key. It is immutable
// after New and safe for concurrent use.
type Gate struct {
	key        *rsa.PrivateKey
	oaepHashes []func() hash.Hash
}

type GateOption func(*Gate)

// WithLegacyOAEP also accepts keys wrapped with OAEP over SHA-1, which is what
// browser sealing libraries default to.
func WithLegacyOAEP() GateOption {
	return func(g *Gate) {
		g.oaepHashes = append(g.oaepHashes, sha1.New)
	}
}

// New parses the authority key once. Any failure is a configuration error and
// the caller must not start serving.
func New(privatePEM string, opts ...GateOption) (*Gate, error) {
	key, err := sealing.ParsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "authority private key cannot be loaded")
	}
	g := &Gate{key: key, oaepHashes: []func() hash.Hash{sha256.New}}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// PublicKey returns the public half for distribution to sealing clients.
func (g *Gate) PublicKey() *rsa.PublicKey {
	return &g.key.PublicKey
}

// Unseal opens packet text that is anchored under expectedDigest. The digest
// is checked before any key material is touched, so a packet altered after
// anchoring fails with DecryptFailed instead of decrypting to something that
// merely looks valid. Errors carry UnwrapFailed, DecryptFailed or
// MalformedPayload; no partial plaintext is ever returned.
func (g *Gate) Unseal(packetText, expectedDigest string) (Payload, error) {
	if expectedDigest == "" {
		return nil, dErrors.New(dErrors.CodeDecryptFailed, "no anchored payload hash to check the packet against")
	}
	if !sealing.HashEqual(sealing.PayloadHash(packetText), expectedDigest) {
		return nil, dErrors.New(dErrors.CodeDecryptFailed, "packet does not match anchored payload hash")
	}

	var packet sealing.Packet
	if err := json.Unmarshal([]byte(packetText), &packet); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedPayload, "sealed packet is not valid JSON")
	}

	wrapped, err := base64.StdEncoding.DecodeString(packet.EncryptedKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnwrapFailed, "wrapped key is not base64")
	}
	key, err := g.unwrap(wrapped)
	if err != nil {
		return nil, err
	}

	iv, err := base64.StdEncoding.DecodeString(packet.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, dErrors.New(dErrors.CodeDecryptFailed, "iv is malformed")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(packet.EncryptedData)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, dErrors.New(dErrors.CodeDecryptFailed, "ciphertext is malformed")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryptFailed, "failed to create cipher")
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	plaintext, err := sealing.Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryptFailed, "ciphertext failed padding check")
	}

	if !json.Valid(plaintext) {
		return nil, dErrors.New(dErrors.CodeMalformedPayload, "decrypted payload is not JSON")
	}
	return Payload(plaintext), nil
}

func (g *Gate) unwrap(wrapped []byte) ([]byte, error) {
	for _, h := range g.oaepHashes {
		key, err := rsa.DecryptOAEP(h(), nil, g.key, wrapped, nil)
		if err != nil {
			continue
		}
		switch len(key) {
		case 16, 24, 32:
			return key, nil
		default:
			return nil, dErrors.New(dErrors.CodeUnwrapFailed, "unwrapped key has invalid length")
		}
	}
	return nil, dErrors.New(dErrors.CodeUnwrapFailed, "failed to unwrap key")
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if err := json.Unmarshal(p, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeMalformedPayload, "payload does not match expected shape")
	}
	return nil
}

// Render produces the human-readable report handed to operators.
func Render(p Payload) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, p, "", "  "); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeMalformedPayload, "payload cannot be rendered")
	}
	return "DECRYPTED E-FIR:\n" + buf.String(), nil
}
