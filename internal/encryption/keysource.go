package encryption

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// KeySource yields the static engine key. It is read once at startup.
type KeySource interface {
	Key(ctx context.Context) ([]byte, error)
}

// StaticKey is a KeySource for a key already in memory (decoded from ENCRYPTION_KEY, or a test key).
type StaticKey []byte

// Key returns a copy of the key after checking its length.
func (k StaticKey) Key(context.Context) ([]byte, error) {
	if len(k) != KeySize {
		return nil, ErrInvalidKey
	}
	return append([]byte(nil), k...), nil
}

// VaultLogical is the subset of the Vault client used to read the key.
type VaultLogical interface {
	ReadWithContext(ctx context.Context, path string) (*api.Secret, error)
}

// VaultKV reads the key from a HashiCorp Vault KV v2 path. The secret's "value" field holds the
// key as base64 or hex.
type VaultKV struct {
	logical VaultLogical
	path    string
}

// NewVaultKV returns a KeySource reading path through client. Client configuration
// (VAULT_ADDR, VAULT_TOKEN, VAULT_NAMESPACE) comes from the environment via api.DefaultConfig.
func NewVaultKV(path string) (*VaultKV, error) {
	client, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("vault: create client: %w", err)
	}
	return &VaultKV{logical: client.Logical(), path: path}, nil
}

// NewVaultKVWithLogical returns a KeySource over an existing logical client.
func NewVaultKVWithLogical(logical VaultLogical, path string) *VaultKV {
	return &VaultKV{logical: logical, path: path}
}

// Key reads and decodes the key.
func (v *VaultKV) Key(ctx context.Context) ([]byte, error) {
	secret, err := v.logical.ReadWithContext(ctx, v.path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", v.path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault: no secret at %s", v.path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// KV v1 mounts return fields at the top level.
		data = secret.Data
	}
	raw, ok := data["value"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("vault: secret at %s has no value field", v.path)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == KeySize*2 {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(b) != KeySize {
		return nil, ErrInvalidKey
	}
	return b, nil
}
