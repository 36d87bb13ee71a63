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
	"strings"
	"time"
)

const SignatureHeader = "X-Chamba-Signature"

type WebhookClient struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookClient(url, secret string, timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookClient{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookClient) Notify(ctx context.Context, notification Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return w.Deliver(ctx, body)
}

// Deliver posts an already encoded notification.
func (w *WebhookClient) Deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("post webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	return nil
}

// Sign returns the hex HMAC-SHA256 of body, prefixed with the algorithm.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
