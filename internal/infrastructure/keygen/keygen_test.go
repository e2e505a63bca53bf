package keygen_test

import (
	"strings"
	"testing"

	"github.com/costwarden/costwarden/internal/infrastructure/keygen"
)

func TestGenerateAPIKey_Format(t *testing.T) {
	key, err := keygen.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(key, "cw_") {
		t.Errorf("expected cw_ prefix, got %q", key)
	}
	// 32 bytes base64url without padding is 43 characters.
	if got := len(strings.TrimPrefix(key, "cw_")); got != 43 {
		t.Errorf("expected 43-character secret, got %d", got)
	}
}

// Keys are inserted under a unique constraint on their hash; generation must
// never repeat even within the same millisecond.
func TestGenerateAPIKey_Unique(t *testing.T) {
	const numKeys = 1000
	seen := make(map[string]bool, numKeys)

	for i := 0; i < numKeys; i++ {
		key, err := keygen.GenerateAPIKey()
		if err != nil {
			t.Fatalf("failed to generate key %d: %v", i, err)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated after %d keys", i)
		}
		seen[key] = true
	}
}

func TestHashKey_DeterministicAndHex(t *testing.T) {
	key, err := keygen.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	h1 := keygen.HashKey(key)
	h2 := keygen.HashKey(key)
	if h1 != h2 {
		t.Errorf("hash is not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex characters for SHA-256, got %d", len(h1))
	}
	if h1 == keygen.HashKey(key+"x") {
		t.Error("different keys produced the same hash")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid key", "cw_8h3k2jf9s7d6f5g4h3j2k1m0n9p8q7r6s5t4u3v2w1x", "cw_8h3k***"},
		{"empty", "", "***"},
		{"wrong prefix", "sk_8h3k2jf9", "***"},
		{"too short", "cw_ab", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keygen.MaskKey(tt.in); got != tt.want {
				t.Errorf("MaskKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMaskKey_NeverRevealsSecret(t *testing.T) {
	key, err := keygen.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	masked := keygen.MaskKey(key)
	if strings.Contains(masked, strings.TrimPrefix(key, "cw_")[5:]) {
		t.Errorf("masked key %q leaks the secret", masked)
	}
	if len(masked) >= len(key) {
		t.Errorf("masked key %q is not shorter than the raw key", masked)
	}
}
