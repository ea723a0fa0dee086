package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

// UpsertSubscriber applies a partial update keyed by email. There is at most
// one row per email; nil fields keep whatever is already stored.
func (s *Store) UpsertSubscriber(ctx context.Context, u models.SubscriberUpdate) error {
	if err := s.ready(); err != nil {
		return err
	}
	email := normalizeEmail(u.Email)
	if email == "" {
		return errors.New("store: subscriber email is required")
	}
	if u.Status == "" {
		return errors.New("store: subscriber status is required")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO subscribers (email, stripe_customer_id, subscription_status, subscription_tier,
		                          subscription_start, subscription_end, last_payment_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (email) DO UPDATE
		 SET stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscribers.stripe_customer_id),
		     subscription_status = EXCLUDED.subscription_status,
		     subscription_tier = COALESCE(EXCLUDED.subscription_tier, subscribers.subscription_tier),
		     subscription_start = COALESCE(EXCLUDED.subscription_start, subscribers.subscription_start),
		     subscription_end = COALESCE(EXCLUDED.subscription_end, subscribers.subscription_end),
		     last_payment_date = COALESCE(EXCLUDED.last_payment_date, subscribers.last_payment_date),
		     updated_at = now()`,
		email,
		u.StripeCustomerID,
		string(u.Status),
		u.Tier,
		u.SubscriptionStart,
		u.SubscriptionEnd,
		u.LastPaymentDate,
	)
	if err != nil {
		return fmt.Errorf("store: upsert subscriber: %w", err)
	}
	return nil
}

// GetSubscriberByEmail returns the subscriber row for email, or nil when absent.
func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		sub        models.Subscriber
		status     string
		userID     sql.NullString
		customerID sql.NullString
		tier       sql.NullString
		start      sql.NullTime
		end        sql.NullTime
		lastPaid   sql.NullTime
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, email, user_id, stripe_customer_id, subscription_status, subscription_tier,
		        subscription_start, subscription_end, last_payment_date, created_at, updated_at
		 FROM subscribers
		 WHERE email = $1`,
		normalizeEmail(email),
	).Scan(
		&sub.ID,
		&sub.Email,
		&userID,
		&customerID,
		&status,
		&tier,
		&start,
		&end,
		&lastPaid,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscriber: %w", err)
	}

	sub.Status = models.SubscriberStatus(status)
	sub.UserID = nullStringPtr(userID)
	sub.StripeCustomerID = nullStringPtr(customerID)
	sub.Tier = nullStringPtr(tier)
	sub.SubscriptionStart = nullTimePtr(start)
	sub.SubscriptionEnd = nullTimePtr(end)
	sub.LastPaymentDate = nullTimePtr(lastPaid)
	return &sub, nil
}
