package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/costwarden/costwarden/internal/domain"
)

// RecurringBillingHandler charges a single subscription renewal. Non-active
// subscriptions are skipped; a missing authorization token is a payload-level
// failure since no charge can ever be attempted without one.
type RecurringBillingHandler struct {
	subscriptions SubscriptionStore
	charger       Charger
}

// NewRecurringBillingHandler wires the recurring_billing handler.
func NewRecurringBillingHandler(subscriptions SubscriptionStore, charger Charger) *RecurringBillingHandler {
	return &RecurringBillingHandler{subscriptions: subscriptions, charger: charger}
}

func (h *RecurringBillingHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	subID, err := requireUUID(job.Payload, "subscription_id")
	if err != nil {
		return nil, err
	}

	sub, err := h.subscriptions.FindSubscription(ctx, sess, subID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, InvalidInput("subscription_id", "subscription does not exist")
	}
	if err != nil {
		return nil, Transient(err)
	}

	if sub.Status != domain.SubscriptionActive {
		return map[string]any{
			"status": "skipped",
			"reason": fmt.Sprintf("subscription is %s", sub.Status),
		}, nil
	}
	if sub.AuthorizationToken == nil || *sub.AuthorizationToken == "" {
		return nil, InvalidInput("authorization_token", "subscription has no charge authorization")
	}

	charged, err := h.charger.ChargeRenewal(ctx, sub)
	if err != nil {
		return nil, Transient(err)
	}
	if !charged {
		// The provider declined: mark past due so the dunning sweep picks
		// the subscription up. The decline itself is not retried here.
		if err := h.subscriptions.MarkPastDue(ctx, sess, sub.ID); err != nil {
			return nil, Transient(err)
		}
		return map[string]any{"status": "declined", "subscription_id": sub.ID.String()}, nil
	}

	nextPayment := nextRenewalDate(sub.NextPaymentDate)
	if err := h.subscriptions.MarkCharged(ctx, sess, sub.ID, nextPayment); err != nil {
		return nil, Transient(err)
	}

	slog.InfoContext(ctx, "subscription renewed",
		"subscription_id", sub.ID, "amount_cents", sub.AmountCents,
		"next_payment", nextPayment.Format("2006-01-02"))

	return map[string]any{
		"status":          "charged",
		"subscription_id": sub.ID.String(),
		"amount_cents":    sub.AmountCents,
		"next_payment":    nextPayment.Format("2006-01-02"),
	}, nil
}

// nextRenewalDate advances monthly from the due date, not from now, so a
// late charge does not drift the billing anchor.
func nextRenewalDate(due time.Time) time.Time {
	next := due.AddDate(0, 1, 0)
	now := time.Now().UTC()
	for next.Before(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}

// DunningHandler advances the dunning stage for a past-due subscription and
// alerts the tenant.
type DunningHandler struct {
	subscriptions SubscriptionStore
	notifier      Notifier
}

// NewDunningHandler wires the dunning handler. notifier may be nil.
func NewDunningHandler(subscriptions SubscriptionStore, notifier Notifier) *DunningHandler {
	return &DunningHandler{subscriptions: subscriptions, notifier: notifier}
}

func (h *DunningHandler) Execute(ctx context.Context, job *domain.Job, sess Session) (map[string]any, error) {
	subID, err := requireUUID(job.Payload, "subscription_id")
	if err != nil {
		return nil, err
	}

	sub, err := h.subscriptions.FindSubscription(ctx, sess, subID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return nil, InvalidInput("subscription_id", "subscription does not exist")
	}
	if err != nil {
		return nil, Transient(err)
	}

	if sub.Status != domain.SubscriptionPastDue {
		return map[string]any{"status": "skipped", "reason": "subscription is not past due"}, nil
	}

	stage, err := h.subscriptions.AdvanceDunning(ctx, sess, sub.ID)
	if err != nil {
		return nil, Transient(err)
	}

	if h.notifier != nil && h.notifier.Configured() {
		h.notifier.SendAlert(ctx,
			"Payment overdue",
			fmt.Sprintf("Subscription %s is past due (dunning stage %d). Please update your payment method.", sub.ID, stage),
			"warning")
	}

	return map[string]any{"status": "advanced", "dunning_stage": stage}, nil
}
