package jobs

import (
	"context"
	"errors"

	"github.com/costwarden/costwarden/internal/domain"
)

// NotificationHandler sends a severity-colored message through the
// notification sink.
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler wires the notification handler. notifier may be
// nil when no sink is configured.
func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

func (h *NotificationHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	if h.notifier == nil || !h.notifier.Configured() {
		return map[string]any{"status": "skipped", "reason": "slack_not_configured"}, nil
	}

	title, err := requireString(job.Payload, "title")
	if err != nil {
		return nil, err
	}
	message, err := requireString(job.Payload, "message")
	if err != nil {
		return nil, err
	}
	severity, _ := payloadString(job.Payload, "severity")
	if severity == "" {
		severity = "info"
	}

	if !h.notifier.SendAlert(ctx, title, message, severity) {
		return nil, Transient(errAlertDeliveryFailed)
	}
	return map[string]any{"status": "sent", "severity": severity}, nil
}

var errAlertDeliveryFailed = errors.New("alert delivery failed")
