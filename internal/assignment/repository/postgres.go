package repository

import (
	"context"
	"database/sql"

	"careportal/internal/assignment/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an assignment repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// IsAssigned reports whether the doctor currently cares for the patient.
func (r *PostgresRepository) IsAssigned(ctx context.Context, doctorID, patientID string) (bool, error) {
	if doctorID == "" || patientID == "" {
		return false, nil
	}
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM care_assignments WHERE doctor_id = $1 AND patient_id = $2)`,
		doctorID, patientID).Scan(&ok)
	return ok, err
}

// ListPatients returns the doctor's assignments, oldest first.
func (r *PostgresRepository) ListPatients(ctx context.Context, doctorID string) ([]*domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, doctor_id, patient_id, created_at FROM care_assignments WHERE doctor_id = $1 ORDER BY created_at`,
		doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Create persists the assignment. Assigning an already assigned pair is a no-op.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Assignment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO care_assignments (id, doctor_id, patient_id, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id, patient_id) DO NOTHING`,
		a.ID, a.DoctorID, a.PatientID, a.CreatedAt)
	return err
}

// Delete removes the assignment if present.
func (r *PostgresRepository) Delete(ctx context.Context, doctorID, patientID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM care_assignments WHERE doctor_id = $1 AND patient_id = $2`, doctorID, patientID)
	return err
}
