// Package resetlimit bounds how often a password-reset link can be issued for one account.
package resetlimit

import (
	"context"
	"errors"
	"time"

	"careportal/internal/identity/repository"
)

// ErrRateLimited is returned when the account already used its reset attempts for the window.
var ErrRateLimited = errors.New("too many password reset requests")

// Ledger runs a read-modify-write against an identity's reset-attempt list.
type Ledger interface {
	UpdateResetAttempts(ctx context.Context, identityID string, fn repository.LedgerFunc) error
}

// Limiter allows at most Max attempts per identity in any trailing Window.
type Limiter struct {
	ledger Ledger
	max    int
	window time.Duration
	now    func() time.Time
}

// New returns a Limiter. Non-positive max or window fall back to 3 per hour.
func New(ledger Ledger, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 3
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{ledger: ledger, max: max, window: window, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// CheckAndRecordAttempt prunes the identity's ledger to the trailing window. If the pruned count is
// already at the ceiling it returns ErrRateLimited and records nothing; otherwise it appends now.
// Concurrent callers for the same identity are serialized by the ledger, at the store's granularity.
func (l *Limiter) CheckAndRecordAttempt(ctx context.Context, identityID string) error {
	now := l.now().UTC()
	return l.ledger.UpdateResetAttempts(ctx, identityID, func(attempts []time.Time) ([]time.Time, error) {
		kept := Prune(attempts, now, l.window)
		if len(kept) >= l.max {
			return nil, ErrRateLimited
		}
		return append(kept, now), nil
	})
}

// Prune returns the attempts newer than window relative to now, in their original order.
func Prune(attempts []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}
