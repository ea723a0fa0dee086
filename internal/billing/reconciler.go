// Package billing turns verified Stripe webhook events into subscriber state.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

// ErrMissingEmail is returned when an event cannot be tied to a subscriber.
var ErrMissingEmail = errors.New("billing: no customer email on event")

// SubscriberStore applies subscriber upserts keyed by email.
type SubscriberStore interface {
	UpsertSubscriber(ctx context.Context, u models.SubscriberUpdate) error
}

// CustomerDirectory resolves a Stripe customer id to its email.
type CustomerDirectory interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

// Reconciler dispatches webhook events to subscriber transitions. Every
// timestamp it writes comes from the event itself, so replaying an event
// leaves the row unchanged.
type Reconciler struct {
	store     SubscriberStore
	customers CustomerDirectory
	metrics   *Metrics
	logger    zerolog.Logger
	handlers  map[stripe.EventType]eventHandler
}

type eventHandler func(ctx context.Context, event stripe.Event) (models.SubscriberUpdate, error)

// NewReconciler builds a Reconciler. customers may be nil, in which case
// events without an inline email fail with ErrMissingEmail.
func NewReconciler(store SubscriberStore, customers CustomerDirectory, metrics *Metrics) *Reconciler {
	r := &Reconciler{
		store:     store,
		customers: customers,
		metrics:   metrics,
		logger:    logging.Component("billing"),
	}
	r.handlers = map[stripe.EventType]eventHandler{
		"checkout.session.completed":    r.checkoutCompleted,
		"invoice.payment_succeeded":     r.paymentSucceeded,
		"invoice.payment_failed":        r.paymentFailed,
		"customer.subscription.deleted": r.subscriptionDeleted,
		"customer.subscription.updated": r.subscriptionUpdated,
	}
	return r
}

// Apply performs the single subscriber transition for event. Unknown event
// types are logged and reported as not handled.
func (r *Reconciler) Apply(ctx context.Context, event stripe.Event) (bool, error) {
	log := r.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	handle, ok := r.handlers[event.Type]
	if !ok {
		log.Info().Msg("billing: ignoring unhandled event type")
		r.metrics.event(string(event.Type), "ignored")
		return false, nil
	}
	if event.Data == nil {
		r.metrics.event(string(event.Type), "error")
		return false, fmt.Errorf("billing: %s: event has no data", event.Type)
	}

	update, err := handle(ctx, event)
	if err != nil {
		r.metrics.event(string(event.Type), "error")
		return false, fmt.Errorf("billing: %s: %w", event.Type, err)
	}
	if err := r.store.UpsertSubscriber(ctx, update); err != nil {
		r.metrics.event(string(event.Type), "error")
		return false, fmt.Errorf("billing: %s: %w", event.Type, err)
	}

	log.Info().Str("status", string(update.Status)).Msg("billing: subscriber updated")
	r.metrics.event(string(event.Type), "applied")
	return true, nil
}

func (r *Reconciler) checkoutCompleted(_ context.Context, event stripe.Event) (models.SubscriberUpdate, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return models.SubscriberUpdate{}, fmt.Errorf("decode checkout session: %w", err)
	}

	email := cs.CustomerEmail
	if email == "" && cs.CustomerDetails != nil {
		email = cs.CustomerDetails.Email
	}
	if strings.TrimSpace(email) == "" {
		return models.SubscriberUpdate{}, ErrMissingEmail
	}

	tier := models.TierPro
	return models.SubscriberUpdate{
		Email:             email,
		Status:            models.SubscriberActive,
		StripeCustomerID:  customerID(cs.Customer),
		Tier:              &tier,
		SubscriptionStart: unixPtr(event.Created),
	}, nil
}

func (r *Reconciler) paymentSucceeded(ctx context.Context, event stripe.Event) (models.SubscriberUpdate, error) {
	inv, email, err := r.decodeInvoice(ctx, event)
	if err != nil {
		return models.SubscriberUpdate{}, err
	}
	paidAt := inv.Created
	if paidAt == 0 {
		paidAt = event.Created
	}
	return models.SubscriberUpdate{
		Email:            email,
		Status:           models.SubscriberActive,
		StripeCustomerID: customerID(inv.Customer),
		LastPaymentDate:  unixPtr(paidAt),
	}, nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, event stripe.Event) (models.SubscriberUpdate, error) {
	inv, email, err := r.decodeInvoice(ctx, event)
	if err != nil {
		return models.SubscriberUpdate{}, err
	}
	return models.SubscriberUpdate{
		Email:            email,
		Status:           models.SubscriberExpired,
		StripeCustomerID: customerID(inv.Customer),
	}, nil
}

func (r *Reconciler) decodeInvoice(ctx context.Context, event stripe.Event) (*stripe.Invoice, string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, "", fmt.Errorf("decode invoice: %w", err)
	}
	email := inv.CustomerEmail
	if email == "" {
		var err error
		if email, err = r.lookupEmail(ctx, inv.Customer); err != nil {
			return nil, "", err
		}
	}
	return &inv, email, nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, event stripe.Event) (models.SubscriberUpdate, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return models.SubscriberUpdate{}, fmt.Errorf("decode subscription: %w", err)
	}
	email, err := r.lookupEmail(ctx, sub.Customer)
	if err != nil {
		return models.SubscriberUpdate{}, err
	}

	endedAt := sub.EndedAt
	if endedAt == 0 {
		endedAt = event.Created
	}
	return models.SubscriberUpdate{
		Email:            email,
		Status:           models.SubscriberCancelled,
		StripeCustomerID: customerID(sub.Customer),
		SubscriptionEnd:  unixPtr(endedAt),
	}, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, event stripe.Event) (models.SubscriberUpdate, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return models.SubscriberUpdate{}, fmt.Errorf("decode subscription: %w", err)
	}
	email, err := r.lookupEmail(ctx, sub.Customer)
	if err != nil {
		return models.SubscriberUpdate{}, err
	}

	start, end := currentPeriod(&sub)
	if start == 0 && end == 0 {
		start, end = legacyPeriod(event.Data.Raw)
	}
	update := models.SubscriberUpdate{
		Email:             email,
		Status:            MapSubscriptionStatus(sub.Status),
		StripeCustomerID:  customerID(sub.Customer),
		SubscriptionStart: unixPtr(start),
		SubscriptionEnd:   unixPtr(end),
	}
	if update.Status == models.SubscriberActive {
		tier := models.TierPro
		update.Tier = &tier
	}
	return update, nil
}

// lookupEmail prefers an expanded customer object and falls back to the
// customer directory.
func (r *Reconciler) lookupEmail(ctx context.Context, c *stripe.Customer) (string, error) {
	if c == nil || c.ID == "" {
		return "", ErrMissingEmail
	}
	if c.Email != "" {
		return c.Email, nil
	}
	if r.customers == nil {
		return "", ErrMissingEmail
	}
	email, err := r.customers.CustomerEmail(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("lookup customer %s: %w", c.ID, err)
	}
	if strings.TrimSpace(email) == "" {
		return "", ErrMissingEmail
	}
	return email, nil
}

// MapSubscriptionStatus maps a Stripe subscription status to a subscriber status.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) models.SubscriberStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriberActive
	case stripe.SubscriptionStatusCanceled:
		return models.SubscriberCancelled
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriberExpired
	default:
		return models.SubscriberPending
	}
}

func currentPeriod(sub *stripe.Subscription) (start, end int64) {
	if sub.Items == nil {
		return 0, 0
	}
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		if item.CurrentPeriodStart > start {
			start = item.CurrentPeriodStart
		}
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	return start, end
}

// legacyPeriod reads the period bounds older API versions put on the
// subscription itself.
func legacyPeriod(raw json.RawMessage) (start, end int64) {
	var legacy struct {
		CurrentPeriodStart int64 `json:"current_period_start"`
		CurrentPeriodEnd   int64 `json:"current_period_end"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return 0, 0
	}
	return legacy.CurrentPeriodStart, legacy.CurrentPeriodEnd
}

func customerID(c *stripe.Customer) *string {
	if c == nil || c.ID == "" {
		return nil
	}
	id := c.ID
	return &id
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
