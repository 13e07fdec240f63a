// Package idempotency collapses duplicate audit submissions onto a single
// job via a stable fingerprint, grounded on the dedup-key approach in
// pkg/alert/dedup.go (Redis fast path, DB as the authority).
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// Fingerprint computes a stable identity for (tenantID, url, options): the
// same submission, resubmitted, always yields the same key. json.Marshal
// sorts map[string]any keys recursively, so options fingerprints identically
// regardless of how the caller built the map.
func Fingerprint(tenantID uuid.UUID, url string, options map[string]any) (string, error) {
	canonical, err := json.Marshal(options)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(tenantID.String()))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}
