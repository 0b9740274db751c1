// Package sealing implements the submitting side of hybrid encryption: a fresh
// AES-256-CBC key per payload, wrapped with the authority's RSA-OAEP key.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	dErrors "sentinel-sos/pkg/domain-errors"
)

const (
	keySize = 32
	ivSize  = aes.BlockSize
)

// Seal encrypts payload for the holder of the private half of pub.
func Seal(payload any, pub *rsa.PublicKey) (*Packet, error) {
	return SealWithRand(payload, pub, rand.Reader)
}

// SealWithRand is Seal with an explicit randomness source. Nothing is
// returned unless every step succeeds.
func SealWithRand(payload any, pub *rsa.PublicKey, random io.Reader) (*Packet, error) {
	if pub == nil {
		return nil, dErrors.New(dErrors.CodeKeyFormat, "public key is required")
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "payload is not JSON serializable")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(random, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate key")
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(random, iv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate iv")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create cipher")
	}
	padded := Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), random, pub, key, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyFormat, "failed to wrap key")
	}

	return &Packet{
		EncryptedKey:  base64.StdEncoding.EncodeToString(wrapped),
		IV:            base64.StdEncoding.EncodeToString(iv),
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// SealPEM parses pubPEM and seals payload, returning the packet text and its
// payload hash ready for anchoring.
func SealPEM(payload any, pubPEM string) (text string, hash string, err error) {
	pub, err := ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return "", "", err
	}
	packet, err := Seal(payload, pub)
	if err != nil {
		return "", "", err
	}
	text = packet.Serialize()
	return text, PayloadHash(text), nil
}
