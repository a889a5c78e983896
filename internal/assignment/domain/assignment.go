package domain

import "time"

// Assignment links a doctor to a patient under their care. A doctor may read the PII and
// files of assigned patients only.
type Assignment struct {
	ID        string
	DoctorID  string
	PatientID string
	CreatedAt time.Time
}
