package client

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
)

// WebhookClient posts notifications to arbitrary callback URLs. Targets
// vary per task, so there is no per-service circuit breaker here; pacing is
// entirely the scheduler's retry ladder.
type WebhookClient struct {
	http *http.Client
}

// NewWebhookClient constructs a webhook client.
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	return &WebhookClient{http: &http.Client{Timeout: timeout}}
}

// Notify posts the JSON body to url. When secret is non-empty the request
// carries an X-Webhook-Signature header with the hex HMAC-SHA256 of the
// body so receivers can authenticate the call.
func (w *WebhookClient) Notify(ctx context.Context, url string, body map[string]any, secret string) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=client.webhook marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("op=client.webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(raw)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=client.webhook do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("op=client.webhook read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{Service: "webhook", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	decoded := map[string]any{"status": resp.StatusCode}
	if len(respBody) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			decoded["body"] = parsed
		} else {
			decoded["body"] = string(respBody)
		}
	}
	return decoded, nil
}
