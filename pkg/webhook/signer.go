// Package webhook signs, validates, and delivers tenant webhook events:
// HMAC-SHA256 payload signing, SSRF-hardened subscription URL validation,
// and a durable delivery engine with a fixed exponential retry ladder.
package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateSecret returns a cryptographically random 32-byte secret,
// hex-encoded to 64 characters — the Go equivalent of the Python source's
// secrets.token_hex(32).
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("webhook: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid HMAC-SHA256 of body under
// secret, using a constant-time comparison.
func Verify(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
