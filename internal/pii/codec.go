// Package pii keeps the sensitive attributes of an identity encrypted at rest. Every write goes
// through Codec.Save, which encrypts plaintext fields in place; plaintext is produced only by an
// explicit Reveal, and each Reveal leaves a decrypt audit record.
package pii

import (
	"context"
	"fmt"
	"strings"

	"careportal/internal/audit"
	auditdomain "careportal/internal/audit/domain"
	"careportal/internal/encryption"
	"careportal/internal/identity/domain"
)

// ResourceType is the audit resource type for identity PII.
const ResourceType = "identity"

// Cipher is the text half of the encryption engine.
type Cipher interface {
	EncryptText(plaintext string) (string, error)
	DecryptText(payload string) (string, error)
}

// Store persists an identity exactly as given.
type Store interface {
	Save(ctx context.Context, i *domain.Identity) error
}

// Codec seals identities before they are stored and reveals them on demand.
type Codec struct {
	cipher Cipher
	store  Store
	audit  audit.Recorder
}

// NewCodec returns a Codec. rec may be nil, in which case reveals are not audited.
func NewCodec(cipher Cipher, store Store, rec audit.Recorder) *Codec {
	return &Codec{cipher: cipher, store: store, audit: rec}
}

// Seal encrypts, in place, every non-empty sensitive field that does not already look like an
// encrypted payload. Sealing an already sealed identity changes nothing.
func (c *Codec) Seal(i *domain.Identity) error {
	for _, f := range i.SensitiveFields() {
		v := *f.Value
		if v == "" || encryption.LooksEncrypted(v) {
			continue
		}
		sealed, err := c.cipher.EncryptText(v)
		if err != nil {
			return fmt.Errorf("pii: seal %s: %w", f.Name, err)
		}
		*f.Value = sealed
	}
	return nil
}

// Save seals i and then persists it. Nothing is written if sealing fails.
func (c *Codec) Save(ctx context.Context, i *domain.Identity) error {
	if err := c.Seal(i); err != nil {
		return err
	}
	return c.store.Save(ctx, i)
}

// Reveal returns a shallow copy of i with every sensitive field decrypted; i is not modified.
// actorID is the identity the plaintext is shown to. A payload that cannot be decrypted fails the
// whole call with an error wrapping encryption.ErrCrypto; no partial copy is returned.
func (c *Codec) Reveal(ctx context.Context, actorID string, i *domain.Identity) (*domain.Identity, error) {
	out := *i
	var names []string
	for _, f := range out.SensitiveFields() {
		v := *f.Value
		if v == "" {
			continue
		}
		plain, err := c.cipher.DecryptText(v)
		if err != nil {
			c.record(ctx, actorID, i.ID, auditdomain.OutcomeFailure, "field "+f.Name+" could not be decrypted")
			return nil, fmt.Errorf("pii: reveal %s: %w", f.Name, err)
		}
		*f.Value = plain
		names = append(names, f.Name)
	}
	c.record(ctx, actorID, i.ID, auditdomain.OutcomeSuccess, "fields: "+strings.Join(names, ","))
	return &out, nil
}

func (c *Codec) record(ctx context.Context, actorID, targetID string, outcome auditdomain.Outcome, detail string) {
	if c.audit == nil {
		return
	}
	c.audit.Record(ctx, audit.Event{
		Action:       auditdomain.ActionDecrypt,
		ActorID:      actorID,
		TargetID:     targetID,
		ResourceType: ResourceType,
		ResourceID:   targetID,
		Outcome:      outcome,
		Detail:       detail,
	})
}
