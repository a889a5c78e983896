package repository

import (
	"context"

	"careportal/internal/policy/domain"
)

// Repository defines persistence for access policies.
type Repository interface {
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
}
