// Package keygen creates and hashes API keys. Keys carry 256 bits of
// entropy; only the SHA-256 digest is ever stored.
package keygen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyPrefix identifies costwarden keys in logs and configuration.
const keyPrefix = "cw"

// GenerateAPIKey creates a new API key of the form cw_{secret} where secret
// is 32 random bytes base64url-encoded. The raw key is shown once at
// creation; callers persist only HashKey(key).
func GenerateAPIKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return keyPrefix + "_" + base64.RawURLEncoding.EncodeToString(secret), nil
}

// HashKey returns the hex-encoded SHA-256 digest of the raw key. High
// entropy makes a plain hash sufficient; no salt or KDF is needed.
func HashKey(rawKey string) string {
	digest := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(digest[:])
}

// MaskKey returns a safe-to-log form of a raw key.
// Example: "cw_8h3k2jf9...x" -> "cw_8h3k***".
func MaskKey(rawKey string) string {
	if !strings.HasPrefix(rawKey, keyPrefix+"_") || len(rawKey) < len(keyPrefix)+6 {
		return "***"
	}
	return rawKey[:len(keyPrefix)+5] + "***"
}
