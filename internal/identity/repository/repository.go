package repository

import (
	"context"
	"errors"
	"time"

	"careportal/internal/identity/domain"
)

// ErrEmailTaken is returned by Save when another identity already uses the email.
var ErrEmailTaken = errors.New("email already registered")

// ErrNotFound is returned by writes that target a missing identity.
var ErrNotFound = errors.New("identity not found")

// LedgerFunc receives the current reset-attempt ledger and returns the ledger to store.
// Returning an error aborts the update and leaves the stored ledger unchanged.
type LedgerFunc func(attempts []time.Time) ([]time.Time, error)

// Repository defines persistence for identities. Identities are never hard-deleted.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*domain.Identity, error)
	// Save inserts or updates the identity. It does not write the reset-attempt ledger.
	Save(ctx context.Context, i *domain.Identity) error
	SetStatus(ctx context.Context, id string, status domain.Status) error
	// UpdateResetAttempts runs fn against the stored ledger under a row lock.
	UpdateResetAttempts(ctx context.Context, id string, fn LedgerFunc) error
}
