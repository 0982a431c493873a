package alerts

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
	"strconv"
	"time"

	"github.com/mbd888/riskgate/internal/retry"
)

// Webhook delivery headers.
const (
	HeaderEvent     = "X-Riskgate-Event"
	HeaderTimestamp = "X-Riskgate-Timestamp"
	HeaderSignature = "X-Riskgate-Signature"
)

// WebhookNotifier posts alert events as JSON to an operator-configured URL
// (case management, paging). Bodies are signed with HMAC-SHA256 when a
// secret is set.
type WebhookNotifier struct {
	url    string
	secret string
	client *http.Client
	policy retry.Policy
}

// NewWebhookNotifier creates a notifier for url. secret may be empty.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: 200 * time.Millisecond,
			MaxDelay:  2 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}

	return retry.Do(ctx, w.policy, func() error {
		return w.send(ctx, ev, payload)
	})
}

func (w *WebhookNotifier) send(ctx context.Context, ev Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Kind))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.At.Unix(), 10))
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret, as sent in
// the signature header.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
