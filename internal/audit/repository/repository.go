package repository

import (
	"context"

	"careportal/internal/audit/domain"
)

// Repository defines persistence for audit records. There is no update or delete.
type Repository interface {
	Create(ctx context.Context, r *domain.Record) error
	// List returns records matching f, newest first.
	List(ctx context.Context, f domain.Filter) ([]*domain.Record, error)
}
