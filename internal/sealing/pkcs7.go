package sealing

import (
	"bytes"
	"crypto/subtle"
	"errors"
)

var errBadPadding = errors.New("invalid PKCS#7 padding")

// Pad appends PKCS#7 padding up to a multiple of blockSize.
func Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// Unpad strips PKCS#7 padding, checking every pad byte. The comparison runs
// over the whole final block regardless of where it fails.
func Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errBadPadding
	}
	want := bytes.Repeat([]byte{byte(n)}, n)
	if subtle.ConstantTimeCompare(data[len(data)-n:], want) != 1 {
		return nil, errBadPadding
	}
	return data[:len(data)-n], nil
}
