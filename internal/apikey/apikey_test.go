package apikey

import (
	"strings"
	"testing"
	"time"

	"elx-gateway/internal/storage/database/credential"
)

func TestGeneratePlaintext(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		plaintext, err := GeneratePlaintext()
		if err != nil {
			t.Fatalf("GeneratePlaintext() error: %v", err)
		}
		if !ValidFormat(plaintext) {
			t.Fatalf("generated key %q fails its own format check", plaintext)
		}
		if seen[plaintext] {
			t.Fatalf("duplicate key generated: %q", plaintext)
		}
		seen[plaintext] = true
	}
}

func TestValidFormat(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid", "elx_live_" + strings.Repeat("a", 32), true},
		{"valid mixed", "elx_live_" + strings.Repeat("aB3", 10) + "Zz", true},
		{"empty", "", false},
		{"wrong prefix", "elx_test_" + strings.Repeat("a", 32), false},
		{"too short", "elx_live_" + strings.Repeat("a", 31), false},
		{"too long", "elx_live_" + strings.Repeat("a", 33), false},
		{"illegal char", "elx_live_" + strings.Repeat("a", 31) + "!", false},
		{"prefix only", "elx_live_", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidFormat(tc.input); got != tc.want {
				t.Errorf("ValidFormat(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestDigestDeterministic(t *testing.T) {
	plaintext := "elx_live_" + strings.Repeat("x", 32)
	first := Digest(plaintext)
	second := Digest(plaintext)
	if first != second {
		t.Error("digest of the same plaintext must be stable")
	}
	if len(first) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(first))
	}
	if first == Digest("elx_live_"+strings.Repeat("y", 32)) {
		t.Error("different plaintexts should not share a digest")
	}
}

func TestDisplayPrefix(t *testing.T) {
	plaintext := "elx_live_" + strings.Repeat("a", 32)
	prefix := DisplayPrefix(plaintext)
	if len(prefix) != 12 {
		t.Errorf("prefix length = %d, want 12", len(prefix))
	}
	if !strings.HasPrefix(plaintext, prefix) {
		t.Error("display prefix must be a prefix of the plaintext")
	}
}

func TestRotationExpired(t *testing.T) {
	now := time.Now().UTC()
	grace := 24 * time.Hour

	stale := now.Add(-25 * time.Hour)
	fresh := now.Add(-time.Hour)

	testCases := []struct {
		name string
		key  *credential.APIKey
		want bool
	}{
		{"active key never expires by rotation", &credential.APIKey{Status: credential.StatusActive}, false},
		{"rotating without timestamp", &credential.APIKey{Status: credential.StatusRotating}, false},
		{"rotating within grace", &credential.APIKey{Status: credential.StatusRotating, RotatingSince: &fresh}, false},
		{"rotating past grace", &credential.APIKey{Status: credential.StatusRotating, RotatingSince: &stale}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RotationExpired(tc.key, grace, now); got != tc.want {
				t.Errorf("RotationExpired() = %v, want %v", got, tc.want)
			}
		})
	}
}
