// Package service implements the secure file vault: files are encrypted before they reach the blob
// store and decrypted only for readers the access policy allows. Every download attempt, allowed or
// not, leaves exactly one audit record.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"careportal/internal/audit"
	auditdomain "careportal/internal/audit/domain"
	"careportal/internal/encryption"
	identitydomain "careportal/internal/identity/domain"
	"careportal/internal/metrics"
	"careportal/internal/platform/rbac"
	"careportal/internal/policy/engine"
	"careportal/internal/vault/blob"
	"careportal/internal/vault/domain"
	"careportal/internal/vault/repository"
)

// ResourceType is the audit resource type for vault files.
const ResourceType = "file"

// DefaultMaxBytes is the upload ceiling when none is configured (10 MB).
const DefaultMaxBytes = 10 << 20

// DefaultAllowedTypes are the accepted upload content types when none are configured.
var DefaultAllowedTypes = []string{"application/pdf", "image/jpeg", "image/png"}

var (
	ErrAccessDenied    = errors.New("access denied")
	ErrNotFound        = errors.New("file not found")
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrUnsupportedType = errors.New("file type not accepted")
	ErrEmptyFile       = errors.New("file is empty")
)

// Cipher is the byte half of the encryption engine.
type Cipher interface {
	EncryptBytes(buf []byte) ([]byte, error)
	DecryptBytes(payload []byte) ([]byte, error)
}

// Deps groups the collaborators of Service. Assignments, Audit and Metrics may be nil.
type Deps struct {
	Cipher       Cipher
	Blobs        blob.Store
	Files        repository.Repository
	Policy       engine.Evaluator
	Assignments  rbac.AssignmentChecker
	Audit        audit.Recorder
	Metrics      *metrics.Metrics
	MaxBytes     int64
	AllowedTypes []string
}

// Service stores and serves encrypted files.
type Service struct {
	Deps
	now func() time.Time
}

// NewService returns a vault service. Zero MaxBytes and empty AllowedTypes take the defaults.
func NewService(d Deps) *Service {
	if d.MaxBytes <= 0 {
		d.MaxBytes = DefaultMaxBytes
	}
	if len(d.AllowedTypes) == 0 {
		d.AllowedTypes = DefaultAllowedTypes
	}
	return &Service{Deps: d, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// UploadLimit returns the effective upload ceiling in bytes.
func (s *Service) UploadLimit() int64 {
	return s.Deps.MaxBytes
}

// UploadInput is one file upload. OwnerID defaults to the caller.
type UploadInput struct {
	OwnerID      string
	OriginalName string
	Content      []byte
}

// Store validates, encrypts and persists an upload for the caller in ctx. Patients upload their own
// files; doctors upload for assigned patients; admins for anyone. Size and content type are checked
// before any encryption work. Either both blob and metadata exist afterwards or neither does.
func (s *Service) Store(ctx context.Context, in UploadInput) (*domain.FileRecord, error) {
	p, err := rbac.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(in.Content) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(in.Content)) > s.Deps.MaxBytes {
		return nil, ErrTooLarge
	}
	mt := mimetype.Detect(in.Content)
	if !s.typeAllowed(mt) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
	ownerID := in.OwnerID
	if ownerID == "" {
		ownerID = p.IdentityID
	}
	ok, err := rbac.CanAccessPatient(ctx, p, ownerID, s.Assignments)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.Metrics.AccessDenied(ResourceType)
		s.audit(ctx, audit.Event{
			Action:       auditdomain.ActionAccessDenied,
			ActorID:      p.IdentityID,
			TargetID:     ownerID,
			ResourceType: ResourceType,
			Detail:       "upload: no care relation to owner",
		})
		return nil, ErrAccessDenied
	}

	payload, err := s.Cipher.EncryptBytes(in.Content)
	if err != nil {
		s.Metrics.CryptoFailure()
		return nil, fmt.Errorf("vault: encrypt: %w", err)
	}
	key, err := blob.NewKey()
	if err != nil {
		return nil, fmt.Errorf("vault: blob key: %w", err)
	}
	if err := s.Blobs.Put(ctx, key, payload); err != nil {
		s.discardBlob(ctx, key)
		return nil, fmt.Errorf("vault: store blob: %w", err)
	}
	rec := &domain.FileRecord{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		UploadedBy:   p.IdentityID,
		BlobKey:      key,
		OriginalName: sanitizeName(in.OriginalName),
		MimeType:     mt.String(),
		Size:         int64(len(in.Content)),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.Files.Create(ctx, rec); err != nil {
		s.discardBlob(ctx, key)
		return nil, fmt.Errorf("vault: store metadata: %w", err)
	}
	s.audit(ctx, audit.Event{
		Action:       auditdomain.ActionUpload,
		ActorID:      p.IdentityID,
		TargetID:     ownerID,
		ResourceType: ResourceType,
		ResourceID:   rec.ID,
		Detail:       rec.MimeType,
	})
	return rec, nil
}

// Retrieve returns the decrypted content of fileID for the caller in ctx. A refusal returns
// ErrAccessDenied; a payload that cannot be decrypted returns an error wrapping encryption.ErrCrypto.
func (s *Service) Retrieve(ctx context.Context, fileID string) ([]byte, *domain.FileRecord, error) {
	p, err := rbac.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.Files.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrNotFound
	}
	if err := s.authorize(ctx, p, rec, "read"); err != nil {
		return nil, nil, err
	}

	payload, err := s.Blobs.Get(ctx, rec.BlobKey)
	if err != nil {
		s.downloadFailed(ctx, p, rec, "blob unavailable")
		if errors.Is(err, blob.ErrNotExist) {
			log.Printf("vault: file %s has metadata but no blob", rec.ID)
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("vault: load blob: %w", err)
	}
	content, err := s.Cipher.DecryptBytes(payload)
	if err != nil {
		s.Metrics.CryptoFailure()
		s.downloadFailed(ctx, p, rec, "decrypt failed")
		return nil, nil, fmt.Errorf("vault: %w", encryption.ErrCrypto)
	}
	s.audit(ctx, audit.Event{
		Action:       auditdomain.ActionDownload,
		ActorID:      p.IdentityID,
		TargetID:     rec.OwnerID,
		ResourceType: ResourceType,
		ResourceID:   rec.ID,
	})
	return content, rec, nil
}

// Delete removes fileID. Owner or admin only. The blob goes first; the metadata row is removed only
// after the blob delete succeeded, so a failure never leaves live ciphertext without a pointer.
func (s *Service) Delete(ctx context.Context, fileID string) error {
	p, err := rbac.FromContext(ctx)
	if err != nil {
		return err
	}
	rec, err := s.Files.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if err := s.authorize(ctx, p, rec, "delete"); err != nil {
		return err
	}
	if err := s.Blobs.Delete(ctx, rec.BlobKey); err != nil {
		return fmt.Errorf("vault: delete blob: %w", err)
	}
	if err := s.Files.Delete(ctx, rec.ID); err != nil {
		log.Printf("vault: blob %s deleted but metadata %s remains: %v", rec.BlobKey, rec.ID, err)
		return fmt.Errorf("vault: delete metadata: %w", err)
	}
	s.audit(ctx, audit.Event{
		Action:       auditdomain.ActionDelete,
		ActorID:      p.IdentityID,
		TargetID:     rec.OwnerID,
		ResourceType: ResourceType,
		ResourceID:   rec.ID,
	})
	return nil
}

// List returns the metadata of ownerID's files. Content is not decrypted.
func (s *Service) List(ctx context.Context, ownerID string) ([]*domain.FileRecord, error) {
	p, err := rbac.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = p.IdentityID
	}
	ok, err := rbac.CanAccessPatient(ctx, p, ownerID, s.Assignments)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rbac.ErrForbidden
	}
	return s.Files.ListByOwner(ctx, ownerID)
}

// Orphans is the result of a reconciliation pass.
type Orphans struct {
	// BlobKeys are stored blobs that no metadata row points to.
	BlobKeys []string
	// Records are metadata rows whose blob is missing.
	Records []*domain.FileRecord
}

// ReconcileOrphans compares the blob store with the metadata table. It only reports; cleanup is an
// operator decision.
func (s *Service) ReconcileOrphans(ctx context.Context) (*Orphans, error) {
	keys, err := s.Blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: list blobs: %w", err)
	}
	recs, err := s.Files.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: list files: %w", err)
	}
	stored := make(map[string]bool, len(keys))
	for _, k := range keys {
		stored[k] = true
	}
	referenced := make(map[string]bool, len(recs))
	out := &Orphans{}
	for _, r := range recs {
		referenced[r.BlobKey] = true
		if !stored[r.BlobKey] {
			out.Records = append(out.Records, r)
		}
	}
	for _, k := range keys {
		if !referenced[k] {
			out.BlobKeys = append(out.BlobKeys, k)
		}
	}
	sort.Strings(out.BlobKeys)
	return out, nil
}

// authorize evaluates the access policy for action and records the refusal when denied.
func (s *Service) authorize(ctx context.Context, p rbac.Principal, rec *domain.FileRecord, action string) error {
	assigned := false
	if p.Role == identitydomain.RoleDoctor && s.Assignments != nil {
		ok, err := s.Assignments.IsAssigned(ctx, p.IdentityID, rec.OwnerID)
		if err != nil {
			log.Printf("vault: assignment lookup failed for %s: %v", p.IdentityID, err)
		}
		assigned = ok && err == nil
	}
	decision, err := s.Policy.EvaluateFileAccess(ctx, engine.FileAccessInput{
		SubjectID:   p.IdentityID,
		SubjectRole: string(p.Role),
		Action:      action,
		FileID:      rec.ID,
		OwnerID:     rec.OwnerID,
		UploadedBy:  rec.UploadedBy,
		Assigned:    assigned,
	})
	if err == nil && decision.Allowed {
		return nil
	}
	reason := decision.Reason
	if reason == "" {
		reason = "denied by policy"
	}
	s.Metrics.AccessDenied(ResourceType)
	s.audit(ctx, audit.Event{
		Action:       auditdomain.ActionAccessDenied,
		ActorID:      p.IdentityID,
		TargetID:     rec.OwnerID,
		ResourceType: ResourceType,
		ResourceID:   rec.ID,
		Detail:       action + ": " + reason,
	})
	return ErrAccessDenied
}

func (s *Service) downloadFailed(ctx context.Context, p rbac.Principal, rec *domain.FileRecord, detail string) {
	s.audit(ctx, audit.Event{
		Action:       auditdomain.ActionDownload,
		ActorID:      p.IdentityID,
		TargetID:     rec.OwnerID,
		ResourceType: ResourceType,
		ResourceID:   rec.ID,
		Outcome:      auditdomain.OutcomeFailure,
		Detail:       detail,
	})
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.Blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Printf("vault: cleanup of blob %s failed: %v", key, err)
	}
}

func (s *Service) typeAllowed(mt *mimetype.MIME) bool {
	for _, t := range s.AllowedTypes {
		if mt.Is(t) {
			return true
		}
	}
	return false
}

func (s *Service) audit(ctx context.Context, ev audit.Event) {
	if s.Audit != nil {
		s.Audit.Record(ctx, ev)
	}
}

const maxNameBytes = 255

// sanitizeName keeps only the base name and drops control characters. Long names are cut on a rune
// boundary so the result stays valid UTF-8.
func sanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if len(name) > maxNameBytes {
		n := maxNameBytes
		for n > 0 && !utf8.RuneStart(name[n]) {
			n--
		}
		name = name[:n]
	}
	if name == "" {
		return "upload"
	}
	return name
}
