package notify

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DevOutbox keeps the latest reset token per email in memory so a developer can complete the reset
// flow without a mail relay. Only wired when the dev outbox is enabled; never in production.
type DevOutbox struct {
	mu   sync.RWMutex
	m    map[string]outboxEntry
	nowF func() time.Time
}

type outboxEntry struct {
	token     string
	expiresAt time.Time
}

// NewDevOutbox returns an empty outbox.
func NewDevOutbox() *DevOutbox {
	return &DevOutbox{m: make(map[string]outboxEntry), nowF: time.Now}
}

// SendPasswordReset stores token for to until expiresAt, replacing any earlier token.
func (o *DevOutbox) SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[strings.ToLower(to)] = outboxEntry{token: token, expiresAt: expiresAt}
	return nil
}

// Get returns the token for email if present and not expired.
func (o *DevOutbox) Get(ctx context.Context, email string) (string, bool) {
	key := strings.ToLower(email)
	o.mu.RLock()
	e, ok := o.m[key]
	o.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(o.nowF()) {
		o.mu.Lock()
		delete(o.m, key)
		o.mu.Unlock()
		return "", false
	}
	return e.token, true
}
