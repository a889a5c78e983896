package repository

import (
	"context"

	"careportal/internal/assignment/domain"
)

// Repository defines persistence for doctor-patient assignments.
type Repository interface {
	IsAssigned(ctx context.Context, doctorID, patientID string) (bool, error)
	ListPatients(ctx context.Context, doctorID string) ([]*domain.Assignment, error)
	Create(ctx context.Context, a *domain.Assignment) error
	Delete(ctx context.Context, doctorID, patientID string) error
}
