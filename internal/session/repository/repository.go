package repository

import (
	"context"
	"time"

	"careportal/internal/session/domain"
)

// Repository defines persistence for sessions. Getters return (nil, nil) when no record exists.
// Implementations do not check expiry except where a method takes an explicit time.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	// ListActiveByIdentity returns the identity's sessions that expire after now, newest first.
	ListActiveByIdentity(ctx context.Context, identityID string, now time.Time) ([]*domain.Session, error)
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteAllByIdentity removes every session of the identity and returns how many were removed.
	DeleteAllByIdentity(ctx context.Context, identityID string) (int64, error)
}
