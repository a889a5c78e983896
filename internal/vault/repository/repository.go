package repository

import (
	"context"

	"careportal/internal/vault/domain"
)

// Repository defines persistence for file metadata.
type Repository interface {
	// GetByID returns the record or (nil, nil) when absent.
	GetByID(ctx context.Context, id string) (*domain.FileRecord, error)
	Create(ctx context.Context, f *domain.FileRecord) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.FileRecord, error)
	ListAll(ctx context.Context) ([]*domain.FileRecord, error)
}
