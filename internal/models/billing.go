package models

import "time"

// SubscriberStatus is the account-level subscription state driven by Stripe events.
type SubscriberStatus string

const (
	SubscriberActive    SubscriberStatus = "active"
	SubscriberCancelled SubscriberStatus = "cancelled"
	SubscriberExpired   SubscriberStatus = "expired"
	SubscriberPending   SubscriberStatus = "pending"
)

// TierPro is the only paid tier.
const TierPro = "pro"

// Subscriber is one row of the subscribers table, keyed by email.
type Subscriber struct {
	ID                int64            `json:"id"`
	Email             string           `json:"email"`
	UserID            *string          `json:"user_id,omitempty"`
	StripeCustomerID  *string          `json:"stripe_customer_id,omitempty"`
	Status            SubscriberStatus `json:"subscription_status"`
	Tier              *string          `json:"subscription_tier,omitempty"`
	SubscriptionStart *time.Time       `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time       `json:"subscription_end,omitempty"`
	LastPaymentDate   *time.Time       `json:"last_payment_date,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Subscribed reports whether the subscriber currently has paid access.
func (s *Subscriber) Subscribed() bool {
	return s != nil && s.Status == SubscriberActive
}

// SubscriberUpdate is a partial upsert keyed by email. Nil fields keep the
// stored value.
type SubscriberUpdate struct {
	Email             string
	Status            SubscriberStatus
	StripeCustomerID  *string
	Tier              *string
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	LastPaymentDate   *time.Time
}
