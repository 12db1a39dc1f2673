package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artpar/quotaguard/ports"
)

// Header names set on webhook deliveries.
const (
	HeaderSignature = "X-Quotaguard-Signature"
	HeaderEvent     = "X-Quotaguard-Event"
)

// EventQuotaAlert is the event type of alert deliveries.
const EventQuotaAlert = "quota.alert"

// WebhookConfig configures a webhook notifier.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Webhook posts alerts as signed JSON to a fixed URL. Delivery is attempted
// once; a non-2xx response is an error.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Payload is the JSON body of an alert delivery.
type Payload struct {
	Event        string  `json:"event"`
	UserID       string  `json:"user_id"`
	Email        string  `json:"email,omitempty"`
	Name         string  `json:"name,omitempty"`
	Plan         string  `json:"plan"`
	UsagePercent float64 `json:"usage_percent"`
	Remaining    int64   `json:"remaining"`
	Threshold    int     `json:"threshold"`
	Day          string  `json:"day"`
	Message      string  `json:"message"`
}

// Notify implements ports.Notifier.
func (w *Webhook) Notify(ctx context.Context, n ports.Notification) error {
	body, err := json.Marshal(Payload{
		Event:        EventQuotaAlert,
		UserID:       n.Identity,
		Email:        n.Email,
		Name:         n.Name,
		Plan:         n.Plan,
		UsagePercent: n.UsagePercent,
		Remaining:    n.Remaining,
		Threshold:    n.Threshold,
		Day:          n.Day,
		Message:      n.Message,
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "quotaguard-webhook/1.0")
	req.Header.Set(HeaderEvent, EventQuotaAlert)
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver webhook: status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}
