package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 15 * time.Second

// WebhookMailer hands reset messages to a mail relay over HTTP. The relay owns templating and delivery.
type WebhookMailer struct {
	APIKey     string
	URL        string
	LinkBase   string
	HTTPClient *http.Client
}

// NewWebhookMailer returns a mailer that posts to relayURL. linkBase is the front-end page that
// accepts the token (e.g. https://portal.example.com/reset-password); the token is added as ?token=.
func NewWebhookMailer(apiKey, relayURL, linkBase string) *WebhookMailer {
	return &WebhookMailer{
		APIKey:     apiKey,
		URL:        relayURL,
		LinkBase:   linkBase,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendPasswordReset posts {template, to, link, expiresAt} to the relay.
func (m *WebhookMailer) SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error {
	if m.URL == "" {
		return fmt.Errorf("mail: relay URL not configured")
	}
	link, err := resetLink(m.LinkBase, token)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(map[string]string{
		"template":  "password-reset",
		"to":        to,
		"link":      link,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	}
	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail: relay failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("mail: invalid link base: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
