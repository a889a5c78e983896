// Package notify delivers password-reset links.
package notify

import (
	"context"
	"time"
)

// Mailer sends a reset token to an account's email address. Implementations must not log the token.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error
}

// Discard drops every message. Used when no relay is configured so reset requests still succeed.
type Discard struct{}

func (Discard) SendPasswordReset(context.Context, string, string, time.Time) error { return nil }
