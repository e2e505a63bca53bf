// Package notify delivers operational alerts to Slack via incoming
// webhooks.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/slack-go/slack"
)

// severityColors maps alert severities to attachment colors. Unknown
// severities fall back to the info color.
var severityColors = map[string]string{
	"info":     "#36a64f",
	"warning":  "#f2c744",
	"error":    "#d00000",
	"critical": "#d00000",
}

// SlackNotifier posts alerts to a Slack incoming webhook. A notifier with an
// empty webhook URL reports itself unconfigured and callers skip it.
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier creates the notifier. webhookURL may be empty.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// Configured reports whether a webhook URL is set.
func (n *SlackNotifier) Configured() bool {
	return n.webhookURL != ""
}

// SendAlert posts a severity-colored attachment. Delivery is best-effort:
// failures are logged and reported as false, never as an error.
func (n *SlackNotifier) SendAlert(ctx context.Context, title, message, severity string) bool {
	if !n.Configured() {
		return false
	}

	color, ok := severityColors[severity]
	if !ok {
		color = severityColors["info"]
	}

	err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{
		Attachments: []slack.Attachment{
			{
				Color:  color,
				Title:  title,
				Text:   message,
				Footer: "costwarden",
				Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
			},
		},
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to deliver slack alert", "title", title, "error", err)
		return false
	}
	return true
}
