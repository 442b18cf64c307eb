// Package alert delivers operator notifications over a Slack-compatible
// incoming webhook. Delivery is fire-and-forget: alert failures are logged
// and never surface into the execution path.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// sendTimeout bounds each webhook delivery.
const sendTimeout = 10 * time.Second

// SlackAlerter posts alerts to an incoming webhook URL.
type SlackAlerter struct {
	WebhookURL       string
	Channel          string
	DashboardBaseURL string
}

// NewSlackAlerter constructs a SlackAlerter.
func NewSlackAlerter(webhookURL, channel, dashboardBaseURL string) *SlackAlerter {
	return &SlackAlerter{WebhookURL: webhookURL, Channel: channel, DashboardBaseURL: dashboardBaseURL}
}

// MaxRetriesExceeded alerts that a task exhausted its retry budget.
func (a *SlackAlerter) MaxRetriesExceeded(ctx context.Context, t domain.Task) {
	title := fmt.Sprintf(":rotating_light: Task exhausted retries: %s", t.Type)
	text := fmt.Sprintf("Task `%s` (reference `%s`) failed after %d attempts.\nLast error: %s",
		t.ID, t.ReferenceID, t.RetryCount, truncate(t.LastError, 500))
	a.post(title, text, t.ID, "danger")
}

// TaskFailure alerts a permanent failure on a high-priority task.
func (a *SlackAlerter) TaskFailure(ctx context.Context, t domain.Task, errorMessage string) {
	title := fmt.Sprintf(":warning: Task dead-lettered: %s", t.Type)
	text := fmt.Sprintf("Task `%s` (reference `%s`, priority %s) failed permanently.\nError: %s",
		t.ID, t.ReferenceID, t.Priority, truncate(errorMessage, 500))
	a.post(title, text, t.ID, "danger")
}

// GenericError alerts an unclassified operational problem.
func (a *SlackAlerter) GenericError(ctx context.Context, title, message, details string) {
	text := message
	if details != "" {
		text += "\n```" + truncate(details, 1000) + "```"
	}
	a.post(title, text, "", "warning")
}

// post delivers asynchronously; the caller never waits on Slack.
func (a *SlackAlerter) post(title, text, taskID, color string) {
	if a.WebhookURL == "" {
		return
	}
	attachment := slack.Attachment{
		Title: title,
		Text:  text,
		Color: color,
		Ts:    json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
	if taskID != "" && a.DashboardBaseURL != "" {
		attachment.TitleLink = fmt.Sprintf("%s/api/v1/tasks/%s", a.DashboardBaseURL, taskID)
	}
	msg := &slack.WebhookMessage{
		Channel:     a.Channel,
		Attachments: []slack.Attachment{attachment},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := slack.PostWebhookContext(ctx, a.WebhookURL, msg); err != nil {
			slog.Error("alert delivery failed",
				slog.String("title", title),
				slog.Any("error", err))
		}
	}()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// NopAlerter discards all alerts; used when alerting is disabled.
type NopAlerter struct{}

func (NopAlerter) MaxRetriesExceeded(context.Context, domain.Task)      {}
func (NopAlerter) TaskFailure(context.Context, domain.Task, string)     {}
func (NopAlerter) GenericError(context.Context, string, string, string) {}
