package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the billing lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription maps a tenant to its plan and renewal state. The billing sweep
// enqueues one recurring_billing job per subscription due for renewal.
type Subscription struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PlanCode           string
	Status             SubscriptionStatus
	AmountCents        int64
	Currency           string
	NextPaymentDate    time.Time
	AuthorizationToken *string // charge authorization from the billing provider
	DunningStage       int
	UpdatedAt          time.Time
}

// Chargeable reports whether the renewal charge can even be attempted.
func (s *Subscription) Chargeable() bool {
	return s.Status == SubscriptionActive && s.AuthorizationToken != nil && *s.AuthorizationToken != ""
}
