package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/costwarden/costwarden/internal/application/jobs"
	"github.com/costwarden/costwarden/internal/domain"
)

// dunningCancelStage is the dunning stage at which the subscription is
// cancelled instead of warned again.
const dunningCancelStage = 3

// FindSubscription loads a subscription by id.
func (s *Store) FindSubscription(ctx context.Context, sess jobs.Session, id uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := sess.QueryRow(ctx, `
		SELECT id, tenant_id, plan_code, status, amount_cents, currency,
		       next_payment_date, authorization_token, dunning_stage, updated_at
		FROM subscriptions WHERE id = $1`, id).Scan(
		&sub.ID, &sub.TenantID, &sub.PlanCode, &sub.Status, &sub.AmountCents,
		&sub.Currency, &sub.NextPaymentDate, &sub.AuthorizationToken,
		&sub.DunningStage, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return &sub, nil
}

// MarkCharged records a successful renewal: the next payment date advances
// and any dunning state resets.
func (s *Store) MarkCharged(ctx context.Context, sess jobs.Session, id uuid.UUID, nextPayment time.Time) error {
	tag, err := sess.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'active', next_payment_date = $2, dunning_stage = 0, updated_at = now()
		WHERE id = $1`, id, nextPayment)
	if err != nil {
		return fmt.Errorf("failed to mark subscription charged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// MarkPastDue transitions a subscription whose charge was declined.
func (s *Store) MarkPastDue(ctx context.Context, sess jobs.Session, id uuid.UUID) error {
	tag, err := sess.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'past_due', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark subscription past due: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubscriptionNotFound
	}
	return nil
}

// AdvanceDunning increments the dunning stage; reaching the final stage
// cancels the subscription. Returns the new stage.
func (s *Store) AdvanceDunning(ctx context.Context, sess jobs.Session, id uuid.UUID) (int, error) {
	var stage int
	err := sess.QueryRow(ctx, `
		UPDATE subscriptions
		SET dunning_stage = dunning_stage + 1,
		    status = CASE WHEN dunning_stage + 1 >= $2 THEN 'cancelled' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING dunning_stage`, id, dunningCancelStage).Scan(&stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance dunning: %w", err)
	}
	return stage, nil
}
