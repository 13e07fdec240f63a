package idempotency

import (
	"testing"

	"github.com/google/uuid"
)

func TestFingerprint_StableAcrossKeyOrder(t *testing.T) {
	tenantID := uuid.New()

	a, err := Fingerprint(tenantID, "https://example.com", map[string]any{"depth": 2, "include_ai": true})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := Fingerprint(tenantID, "https://example.com", map[string]any{"include_ai": true, "depth": 2})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if a != b {
		t.Errorf("expected identical fingerprints regardless of map build order, got %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars (sha256), got %d", len(a))
	}
}

func TestFingerprint_DiffersOnURL(t *testing.T) {
	tenantID := uuid.New()
	opts := map[string]any{"depth": 2}

	a, _ := Fingerprint(tenantID, "https://example.com/a", opts)
	b, _ := Fingerprint(tenantID, "https://example.com/b", opts)

	if a == b {
		t.Error("expected different URLs to fingerprint differently")
	}
}

func TestFingerprint_DiffersOnTenant(t *testing.T) {
	opts := map[string]any{"depth": 2}
	url := "https://example.com"

	a, _ := Fingerprint(uuid.New(), url, opts)
	b, _ := Fingerprint(uuid.New(), url, opts)

	if a == b {
		t.Error("expected different tenants to fingerprint differently even for the same URL/options")
	}
}

func TestFingerprint_DiffersOnOptionValue(t *testing.T) {
	tenantID := uuid.New()
	url := "https://example.com"

	a, _ := Fingerprint(tenantID, url, map[string]any{"depth": 2})
	b, _ := Fingerprint(tenantID, url, map[string]any{"depth": 3})

	if a == b {
		t.Error("expected different option values to fingerprint differently")
	}
}
