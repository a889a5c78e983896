package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// secretBytes is the entropy of refresh and reset secrets (256 bits).
const secretBytes = 32

// GenerateSecret returns a URL-safe random secret suitable for a refresh cookie or a reset link.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret returns a SHA-256 hash of the secret, hex-encoded.
// Stores index sessions and reset tokens by this value so the raw secret never hits persistence.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// SecretHashEqual performs constant-time comparison of the provided secret's hash
// with the stored hash. Returns true only if they match; an empty secret never matches.
func SecretHashEqual(providedSecret, storedHash string) bool {
	if providedSecret == "" || storedHash == "" {
		return false
	}
	providedHash := HashSecret(providedSecret)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
