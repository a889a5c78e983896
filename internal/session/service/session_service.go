// Package service owns the session lifecycle: creation with an opaque refresh secret, lookup by secret
// with lazy expiry, and revocation.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"careportal/internal/security"
	"careportal/internal/session/domain"
	"careportal/internal/session/repository"
)

// ErrSessionNotFound is returned when a session does not exist or belongs to another identity.
var ErrSessionNotFound = errors.New("session not found")

// Service manages sessions over a Repository.
type Service struct {
	repo       repository.Repository
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService returns a session service whose sessions expire refreshTTL after creation.
func NewService(repo repository.Repository, refreshTTL time.Duration) *Service {
	return &Service{repo: repo, refreshTTL: refreshTTL, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RefreshTTL returns the absolute session lifetime.
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// CreateSession stores a new session for the identity and returns it with the plaintext refresh secret.
// Only the hash of the secret is persisted; the secret cannot be recovered later.
func (s *Service) CreateSession(ctx context.Context, identityID, userAgent, ip string) (*domain.Session, string, error) {
	secret, err := security.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	sess := &domain.Session{
		ID:               uuid.New().String(),
		IdentityID:       identityID,
		RefreshTokenHash: security.HashSecret(secret),
		DeviceLabel:      domain.DeviceLabel(userAgent),
		IPAddress:        ip,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.refreshTTL),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, "", err
	}
	return sess, secret, nil
}

// VerifyRefreshToken returns the session for secret, or nil if there is none. A session found past its
// expiry is deleted and nil is returned. Errors are returned only for store failures.
func (s *Service) VerifyRefreshToken(ctx context.Context, secret string) (*domain.Session, error) {
	if secret == "" {
		return nil, nil
	}
	hash := security.HashSecret(secret)
	sess, err := s.repo.GetByRefreshHash(ctx, hash)
	if err != nil || sess == nil {
		return nil, err
	}
	if !security.SecretHashEqual(secret, sess.RefreshTokenHash) {
		return nil, nil
	}
	if sess.Expired(s.now()) {
		if err := s.repo.Delete(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return sess, nil
}

// RevokeSession deletes the session. Revoking a missing session is a no-op.
func (s *Service) RevokeSession(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// RevokeSessionOfIdentity deletes the session only if it belongs to identityID.
func (s *Service) RevokeSessionOfIdentity(ctx context.Context, identityID, id string) error {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil || sess.IdentityID != identityID {
		return ErrSessionNotFound
	}
	return s.repo.Delete(ctx, id)
}

// RevokeAllSessionsForIdentity deletes every session of the identity and returns the count.
func (s *Service) RevokeAllSessionsForIdentity(ctx context.Context, identityID string) (int64, error) {
	return s.repo.DeleteAllByIdentity(ctx, identityID)
}

// ListActiveSessions returns the identity's unexpired sessions, newest first.
func (s *Service) ListActiveSessions(ctx context.Context, identityID string) ([]*domain.Session, error) {
	return s.repo.ListActiveByIdentity(ctx, identityID, s.now())
}
