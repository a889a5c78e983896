// Package blob stores encrypted file payloads. Keys are random and extension-less; callers never
// choose them.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
)

// ErrNotExist is returned by Get when no blob is stored under the key.
var ErrNotExist = errors.New("blob: not found")

// ErrInvalidKey is returned for keys that were not produced by NewKey.
var ErrInvalidKey = errors.New("blob: invalid key")

var keyPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// Store is a flat key/value store for encrypted payloads.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// NewKey returns a random 128-bit hex key.
func NewKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidKey reports whether key has the shape produced by NewKey.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
