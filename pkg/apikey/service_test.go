package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	raw, hash, prefix := generateAPIKey()

	if !strings.HasPrefix(raw, "al_") {
		t.Errorf("raw key = %q, want al_ prefix", raw)
	}
	if len(raw) != len("al_")+64 {
		t.Errorf("raw key length = %d, want %d (32 random bytes hex-encoded)", len(raw), len("al_")+64)
	}

	want := sha256.Sum256([]byte(raw))
	if hash != hex.EncodeToString(want[:]) {
		t.Error("hash does not match SHA-256 of raw key")
	}

	if prefix != raw[:10] {
		t.Errorf("prefix = %q, want first 10 chars of raw key", prefix)
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	raw1, hash1, _ := generateAPIKey()
	raw2, hash2, _ := generateAPIKey()

	if raw1 == raw2 {
		t.Error("two successive calls produced the same raw key")
	}
	if hash1 == hash2 {
		t.Error("two successive calls produced the same hash")
	}
}
