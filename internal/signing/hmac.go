package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const prefix = "sha256="

var ErrEmptySecret = errors.New("signing: secret is empty")

// Sign returns the HMAC-SHA256 of payload keyed by secret, formatted as
// "sha256=<hex>". The same inputs always produce the same token.
func Sign(secret string, payload []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}
	return prefix + hex.EncodeToString(mac(secret, payload)), nil
}

// Verify checks a token produced by Sign in constant time.
func Verify(secret string, payload []byte, signature string) bool {
	expected, err := Sign(secret, payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

func mac(secret string, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}
