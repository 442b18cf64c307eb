package handler

import (
	"fmt"
	"net/url"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// WebhookHandler delivers outbound notifications to a callback URL taken
// from the task payload. Payload fields: "url" (required), "body" (the
// document to post, defaults to the remaining payload), "secret" (optional
// HMAC signing key).
type WebhookHandler struct {
	Webhooks WebhookAPI
}

// WebhookAPI is the slice of the webhook client this handler needs.
type WebhookAPI interface {
	Notify(ctx domain.Context, url string, body map[string]any, secret string) (map[string]any, error)
}

// NewWebhookHandler constructs the handler.
func NewWebhookHandler(webhooks WebhookAPI) *WebhookHandler {
	return &WebhookHandler{Webhooks: webhooks}
}

// Type implements domain.Handler.
func (h *WebhookHandler) Type() domain.TaskType { return domain.TypeWebhookNotification }

// Validate requires an absolute http(s) callback URL in the payload.
func (h *WebhookHandler) Validate(t domain.Task) error {
	raw := t.PayloadString("url", "")
	if raw == "" {
		return fmt.Errorf("webhook requires a url payload field: %w", domain.ErrInvalidArgument)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("webhook url %q must be absolute http(s): %w", raw, domain.ErrInvalidArgument)
	}
	return nil
}

// Execute posts the notification. 404 means the receiver endpoint is gone,
// which never heals on retry; 409 from a receiver means the event was
// already consumed.
func (h *WebhookHandler) Execute(ctx domain.Context, t domain.Task) domain.Result {
	target := t.PayloadString("url", "")
	secret := t.PayloadString("secret", "")
	body, _ := t.Payload["body"].(map[string]any)
	if body == nil {
		body = map[string]any{
			"task_id":      t.ID,
			"reference_id": t.ReferenceID,
			"type":         string(t.Type),
		}
	}
	resp, err := h.Webhooks.Notify(ctx, target, body, secret)
	if err != nil {
		return classifyServiceError(err, "WEBHOOK_ENDPOINT_NOT_FOUND", "WEBHOOK_ALREADY_CONSUMED")
	}
	return domain.Succeed(resp)
}

// NextRetryDelay uses the task's configured base, or the scheduler default,
// with jitter.
func (h *WebhookHandler) NextRetryDelay(t domain.Task, defaultDelayHours int) time.Duration {
	if d, ok := metadataDelayOverride(t); ok {
		return jitter(d)
	}
	return jitter(time.Duration(t.EffectiveRetryDelayHours(defaultDelayHours)) * time.Hour)
}
