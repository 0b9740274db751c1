package sealing

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"regexp"
	"strings"

	dErrors "sentinel-sos/pkg/domain-errors"
)

// MinKeyBits is the smallest authority modulus accepted.
const MinKeyBits = 2048

var whitespace = regexp.MustCompile(`\s+`)

// NormalizePEM accepts the shapes keys arrive in from env files: quoted with
// literal "\n" escapes, a full PEM block, or a bare base64 body. A bare body is
// wrapped with the given block type.
func NormalizePEM(raw, blockType string) string {
	key := strings.TrimSpace(raw)
	if len(key) >= 2 && key[0] == '"' && key[len(key)-1] == '"' {
		key = key[1 : len(key)-1]
	}
	key = strings.ReplaceAll(key, `\n`, "\n")
	if strings.HasPrefix(key, "-----BEGIN ") {
		return key
	}
	body := whitespace.ReplaceAllString(key, "")
	var sb strings.Builder
	sb.WriteString("-----BEGIN " + blockType + "-----\n")
	for len(body) > 64 {
		sb.WriteString(body[:64] + "\n")
		body = body[64:]
	}
	if body != "" {
		sb.WriteString(body + "\n")
	}
	sb.WriteString("-----END " + blockType + "-----")
	return sb.String()
}

// ParsePublicKeyPEM parses a PKIX or PKCS#1 RSA public key.
func ParsePublicKeyPEM(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw, "PUBLIC KEY")))
	if block == nil {
		return nil, dErrors.New(dErrors.CodeKeyFormat, "public key is not PEM encoded")
	}
	var pub *rsa.PublicKey
	if k, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, dErrors.New(dErrors.CodeKeyFormat, "public key is not RSA")
		}
		pub = rk
	} else if k, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		pub = k
	} else {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyFormat, "public key cannot be parsed")
	}
	if pub.N.BitLen() < MinKeyBits {
		return nil, dErrors.New(dErrors.CodeKeyFormat, "public key is shorter than 2048 bits")
	}
	return pub, nil
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKeyPEM(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw, "RSA PRIVATE KEY")))
	if block == nil {
		return nil, dErrors.New(dErrors.CodeKeyFormat, "private key is not PEM encoded")
	}
	var priv *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		priv = k
	} else if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, dErrors.New(dErrors.CodeKeyFormat, "private key is not RSA")
		}
		priv = rk
	} else {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyFormat, "private key cannot be parsed")
	}
	if priv.N.BitLen() < MinKeyBits {
		return nil, dErrors.New(dErrors.CodeKeyFormat, "private key is shorter than 2048 bits")
	}
	if err := priv.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyFormat, "private key failed validation")
	}
	return priv, nil
}

// EncodePrivateKeyPEM renders a key as PKCS#1 PEM.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}))
}

// EncodePublicKeyPEM renders a key as PKIX PEM.
func EncodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeKeyFormat, "failed to encode public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
