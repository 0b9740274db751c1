package sealing

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "sentinel-sos/pkg/domain-errors"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func authorityKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

type SealerSuite struct {
	suite.Suite
	key *rsa.PrivateKey
}

func TestSealerSuite(t *testing.T) {
	suite.Run(t, new(SealerSuite))
}

func (s *SealerSuite) SetupSuite() {
	s.key = authorityKey(s.T())
}

// open is a minimal reference unseal used to check Seal's output.
func (s *SealerSuite) open(p *Packet) []byte {
	wrapped, err := base64.StdEncoding.DecodeString(p.EncryptedKey)
	s.Require().NoError(err)
	iv, err := base64.StdEncoding.DecodeString(p.IV)
	s.Require().NoError(err)
	ct, err := base64.StdEncoding.DecodeString(p.EncryptedData)
	s.Require().NoError(err)

	key, err := rsa.DecryptOAEP(sha256.New(), nil, s.key, wrapped, nil)
	s.Require().NoError(err)
	s.Require().Len(key, 32)
	block, err := aes.NewCipher(key)
	s.Require().NoError(err)
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	out, err := Unpad(pt, aes.BlockSize)
	s.Require().NoError(err)
	return out
}

func (s *SealerSuite) TestSealProducesDecryptablePacket() {
	payload := map[string]any{"name": "Asha", "passport": "P1234567", "incident": "lost"}

	packet, err := Seal(payload, &s.key.PublicKey)
	s.Require().NoError(err)

	var got map[string]any
	s.Require().NoError(json.Unmarshal(s.open(packet), &got))
	s.Equal("Asha", got["name"])
	s.Equal("P1234567", got["passport"])
}

func (s *SealerSuite) TestFreshKeyAndIVPerCall() {
	a, err := Seal("same", &s.key.PublicKey)
	s.Require().NoError(err)
	b, err := Seal("same", &s.key.PublicKey)
	s.Require().NoError(err)

	s.NotEqual(a.IV, b.IV)
	s.NotEqual(a.EncryptedKey, b.EncryptedKey)
	s.NotEqual(a.EncryptedData, b.EncryptedData)
}

func (s *SealerSuite) TestRandomFailureReturnsNoPacket() {
	packet, err := SealWithRand("x", &s.key.PublicKey, bytes.NewReader([]byte{1, 2, 3}))
	s.Nil(packet)
	s.Require().Error(err)
}

func (s *SealerSuite) TestNilKey() {
	packet, err := Seal("x", nil)
	s.Nil(packet)
	s.True(dErrors.HasCode(err, dErrors.CodeKeyFormat))
}

func (s *SealerSuite) TestUnserializablePayload() {
	packet, err := Seal(make(chan int), &s.key.PublicKey)
	s.Nil(packet)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *SealerSuite) TestSealPEMReturnsHashOfText() {
	pubPEM, err := EncodePublicKeyPEM(&s.key.PublicKey)
	s.Require().NoError(err)

	text, hash, err := SealPEM(map[string]string{"a": "b"}, pubPEM)
	s.Require().NoError(err)
	s.Equal(PayloadHash(text), hash)

	parsed, err := ParsePacket(text)
	s.Require().NoError(err)
	s.Equal(text, parsed.Serialize())
}

func TestSerialize_FieldOrderAndNoEscaping(t *testing.T) {
	p := &Packet{EncryptedKey: "a+b/c==", IV: "aXY=", EncryptedData: "ZA=="}
	assert.Equal(t, `{"encryptedKey":"a+b/c==","iv":"aXY=","encryptedData":"ZA=="}`, p.Serialize())
}

func TestPayloadHash_Keccak(t *testing.T) {
	// keccak256("") is a well known constant.
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", PayloadHash(""))
	assert.True(t, strings.HasPrefix(PayloadHash("x"), "0x"))
	assert.Len(t, PayloadHash("x"), 66)
}

func TestHashEqual(t *testing.T) {
	assert.True(t, HashEqual("0xABcd", "0xabCD"))
	assert.True(t, HashEqual("abcd", "0xabcd"))
	assert.False(t, HashEqual("0xabcd", "0xabce"))
	assert.False(t, HashEqual("", ""))
}

func TestParsePacket(t *testing.T) {
	t.Run("rejects non JSON", func(t *testing.T) {
		_, err := ParsePacket("nope")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
	t.Run("rejects missing fields", func(t *testing.T) {
		_, err := ParsePacket(`{"iv":"aXY="}`)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
	t.Run("rejects bad base64", func(t *testing.T) {
		_, err := ParsePacket(`{"encryptedKey":"***","iv":"aXY=","encryptedData":"ZA=="}`)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestPKCS7(t *testing.T) {
	t.Run("pad then unpad", func(t *testing.T) {
		for n := 0; n < 40; n++ {
			data := bytes.Repeat([]byte{'x'}, n)
			padded := Pad(append([]byte{}, data...), 16)
			require.Zero(t, len(padded)%16)
			out, err := Unpad(padded, 16)
			require.NoError(t, err)
			require.Equal(t, data, out)
		}
	})
	t.Run("rejects inconsistent pad bytes", func(t *testing.T) {
		block := append(bytes.Repeat([]byte{'x'}, 13), 3, 2, 3)
		_, err := Unpad(block, 16)
		assert.True(t, errors.Is(err, errBadPadding))
	})
	t.Run("rejects zero and oversize pad", func(t *testing.T) {
		_, err := Unpad(append(bytes.Repeat([]byte{'x'}, 15), 0), 16)
		assert.Error(t, err)
		_, err = Unpad(append(bytes.Repeat([]byte{'x'}, 15), 17), 16)
		assert.Error(t, err)
	})
	t.Run("rejects partial block", func(t *testing.T) {
		_, err := Unpad([]byte{1, 2, 3}, 16)
		assert.Error(t, err)
	})
}

func TestKeyParsing(t *testing.T) {
	key := authorityKey(t)

	pkix, err := EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	pkcs1 := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}))

	t.Run("pkix pem", func(t *testing.T) {
		pub, err := ParsePublicKeyPEM(pkix)
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey.N, pub.N)
	})

	t.Run("pkcs1 pem", func(t *testing.T) {
		_, err := ParsePublicKeyPEM(pkcs1)
		require.NoError(t, err)
	})

	t.Run("quoted with escaped newlines", func(t *testing.T) {
		quoted := `"` + strings.ReplaceAll(pkix, "\n", `\n`) + `"`
		_, err := ParsePublicKeyPEM(quoted)
		require.NoError(t, err)
	})

	t.Run("bare body", func(t *testing.T) {
		block, _ := pem.Decode([]byte(pkix))
		bare := base64.StdEncoding.EncodeToString(block.Bytes)
		_, err := ParsePublicKeyPEM(bare)
		require.NoError(t, err)
	})

	t.Run("garbage is a key format error", func(t *testing.T) {
		_, err := ParsePublicKeyPEM("definitely not a key")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyFormat))
	})

	t.Run("private key round trip", func(t *testing.T) {
		priv, err := ParsePrivateKeyPEM(EncodePrivateKeyPEM(key))
		require.NoError(t, err)
		assert.Equal(t, key.D, priv.D)
	})

	t.Run("pkcs8 private key", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		raw := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		_, err = ParsePrivateKeyPEM(raw)
		require.NoError(t, err)
	})

	t.Run("short key rejected", func(t *testing.T) {
		small, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)
		_, err = ParsePrivateKeyPEM(EncodePrivateKeyPEM(small))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyFormat))
	})
}
