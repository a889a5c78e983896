package domain

import (
	"errors"
	"time"
)

// Identity is a portal account. Name and Email are stored in plaintext so they can be searched;
// NationalID, Phone and Address are PII and are persisted only as encrypted payloads.
type Identity struct {
	ID           string
	Role         Role
	Status       Status
	Name         string
	Email        string
	NationalID   string
	Phone        string
	Address      string
	PasswordHash string

	// ResetAttempts holds timestamps of password-reset requests; pruned by the reset limiter.
	ResetAttempts       []time.Time
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBanned   Status = "banned"
)

// SensitiveField names one PII attribute and points at its value.
type SensitiveField struct {
	Name  string
	Value *string
}

// SensitiveFields returns the PII attributes of i. Values are pointers into i, so callers may
// rewrite them in place.
func (i *Identity) SensitiveFields() []SensitiveField {
	return []SensitiveField{
		{Name: "national_id", Value: &i.NationalID},
		{Name: "phone", Value: &i.Phone},
		{Name: "address", Value: &i.Address},
	}
}

// Validate validates the identity for persistence. Returns an error describing the first validation failure.
func (i *Identity) Validate() error {
	if i.Email == "" {
		return errors.New("email is required")
	}
	if !i.Role.Valid() {
		return errors.New("role must be patient, doctor or admin")
	}
	if i.Status == "" {
		i.Status = StatusActive
	}
	return nil
}

// PII carries the sensitive attributes supplied at registration or update, in plaintext.
type PII struct {
	NationalID string
	Phone      string
	Address    string
}
