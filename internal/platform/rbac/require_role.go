// Package rbac resolves the caller from the request context and answers role and care-relation checks.
package rbac

import (
	"context"
	"errors"

	"careportal/internal/identity/domain"
	"careportal/internal/server/interceptors"
)

var (
	// ErrUnauthenticated is returned when the context carries no verified identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when the caller is authenticated but lacks the required relation or role.
	ErrForbidden = errors.New("forbidden")
)

// Principal is the verified caller.
type Principal struct {
	IdentityID string
	Role       domain.Role
}

// AssignmentChecker reports whether a doctor is assigned to a patient.
type AssignmentChecker interface {
	IsAssigned(ctx context.Context, doctorID, patientID string) (bool, error)
}

// FromContext returns the principal set by the auth middleware or interceptor.
func FromContext(ctx context.Context) (Principal, error) {
	id, okID := interceptors.GetIdentityID(ctx)
	role, okRole := interceptors.GetRole(ctx)
	if !okID || !okRole || !domain.Role(role).Valid() {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{IdentityID: id, Role: domain.Role(role)}, nil
}

// RequireRole ensures the caller is authenticated and holds one of roles.
func RequireRole(ctx context.Context, roles ...domain.Role) (Principal, error) {
	p, err := FromContext(ctx)
	if err != nil {
		return Principal{}, err
	}
	for _, r := range roles {
		if p.Role == r {
			return p, nil
		}
	}
	return Principal{}, ErrForbidden
}

// CanAccessPatient reports whether p may read the records of patientID: the patient themself,
// an admin, or a doctor assigned to the patient. checker may be nil, in which case doctors
// are never allowed.
func CanAccessPatient(ctx context.Context, p Principal, patientID string, checker AssignmentChecker) (bool, error) {
	if p.IdentityID == "" || patientID == "" {
		return false, nil
	}
	switch {
	case p.IdentityID == patientID:
		return true, nil
	case p.Role == domain.RoleAdmin:
		return true, nil
	case p.Role == domain.RoleDoctor && checker != nil:
		return checker.IsAssigned(ctx, p.IdentityID, patientID)
	}
	return false, nil
}
