package domain

import "time"

// Session is the server-side record backing one refresh secret. It stores only the SHA-256 hash of
// the secret. Deleting the record revokes the session.
type Session struct {
	ID               string
	IdentityID       string
	RefreshTokenHash string
	DeviceLabel      string
	IPAddress        string
	CreatedAt        time.Time
	ExpiresAt        time.Time // absolute; never extended
}

// Expired reports whether the session is past its absolute expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
