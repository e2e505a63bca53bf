package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/application/jobs"
)

// PaystackWebhookHandler reprocesses Paystack events from the webhook retry
// queue. The signature check that protected the original delivery is
// deliberately absent here: the event was authenticated when first
// received, before the retry job was enqueued.
type PaystackWebhookHandler struct {
	subscriptions jobs.SubscriptionStore
}

var _ jobs.ProviderWebhookHandler = (*PaystackWebhookHandler)(nil)

// NewPaystackWebhookHandler wires the Paystack sub-handler.
func NewPaystackWebhookHandler(subscriptions jobs.SubscriptionStore) *PaystackWebhookHandler {
	return &PaystackWebhookHandler{subscriptions: subscriptions}
}

// HandleEvent applies one Paystack event to the subscription it references.
// Unknown event types are acknowledged without action so a new provider
// event cannot wedge the retry queue.
func (h *PaystackWebhookHandler) HandleEvent(ctx context.Context, sess jobs.Session, data map[string]any) error {
	event, _ := data["event"].(string)
	subID, err := subscriptionIDFrom(data)
	if err != nil {
		return err
	}

	switch event {
	case "charge.success":
		sub, err := h.subscriptions.FindSubscription(ctx, sess, subID)
		if err != nil {
			return err
		}
		return h.subscriptions.MarkCharged(ctx, sess, subID, nextPayment(sub.NextPaymentDate))
	case "invoice.payment_failed", "charge.failed":
		return h.subscriptions.MarkPastDue(ctx, sess, subID)
	default:
		slog.InfoContext(ctx, "ignoring unhandled paystack event", "event", event)
		return nil
	}
}

func subscriptionIDFrom(data map[string]any) (uuid.UUID, error) {
	payload, _ := data["data"].(map[string]any)
	if payload == nil {
		payload = data
	}
	metadata, _ := payload["metadata"].(map[string]any)
	if metadata == nil {
		metadata = payload
	}
	raw, _ := metadata["subscription_id"].(string)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("paystack event carries no subscription_id")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("paystack event has malformed subscription_id %q: %w", raw, err)
	}
	return id, nil
}

func nextPayment(due time.Time) time.Time {
	next := due.AddDate(0, 1, 0)
	now := time.Now().UTC()
	for next.Before(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
