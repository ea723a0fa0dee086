// Package stripe wraps the Stripe SDK calls the dashboard needs: checkout,
// the customer portal and customer lookups for webhook reconciliation.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
)

const (
	// DefaultProductName labels the inline price used when no price id is configured.
	DefaultProductName = "BuildForMe Pro Subscription"
	// DefaultUnitAmount is the inline monthly price in cents.
	DefaultUnitAmount int64 = 1199
	defaultCurrency         = "usd"
)

// ErrCustomerNotFound is returned when no Stripe customer matches.
var ErrCustomerNotFound = errors.New("stripe: customer not found")

// CheckoutRequest describes a subscription checkout for one user.
type CheckoutRequest struct {
	Email      string
	UserID     string
	PriceID    string
	GuildID    string
	GuildName  string
	SuccessURL string
	CancelURL  string
}

// Client is a thin wrapper over stripe.Client.
type Client struct {
	sc           *stripe.Client
	defaultPrice string
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	defaultPrice string
	backendURL   string
}

// WithDefaultPrice sets the price used when a checkout request names none.
func WithDefaultPrice(priceID string) Option {
	return func(o *clientOptions) { o.defaultPrice = strings.TrimSpace(priceID) }
}

// WithBackendURL points the SDK at a different API host.
func WithBackendURL(url string) Option {
	return func(o *clientOptions) { o.backendURL = url }
}

// NewClient creates a Stripe client for secretKey.
func NewClient(secretKey string, opts ...Option) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []stripe.ClientOption
	if o.backendURL != "" {
		backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			URL:               stripe.String(o.backendURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		clientOpts = append(clientOpts, stripe.WithBackends(backends))
	}

	return &Client{
		sc:           stripe.NewClient(secretKey, clientOpts...),
		defaultPrice: o.defaultPrice,
		logger:       logging.Component("stripe"),
	}
}

// CreateCheckoutSession starts a subscription checkout and returns its URL.
// An existing customer with the same email is reused; otherwise the email is
// prefilled so Stripe creates the customer.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	if strings.TrimSpace(req.Email) == "" {
		return "", errors.New("stripe: checkout requires an email")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems:  LineItems(req.PriceID, c.defaultPrice),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.UserID != "" {
		params.ClientReferenceID = stripe.String(req.UserID)
		params.AddMetadata("user_id", req.UserID)
	}
	if req.GuildID != "" {
		params.AddMetadata("guild_id", req.GuildID)
		params.AddMetadata("guild_name", req.GuildName)
	}

	customerID, err := c.FindCustomerByEmail(ctx, req.Email)
	switch {
	case err == nil:
		params.Customer = stripe.String(customerID)
	case errors.Is(err, ErrCustomerNotFound):
		params.CustomerEmail = stripe.String(req.Email)
	default:
		return "", err
	}

	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("stripe: create checkout session: %w", err)
	}

	c.logger.Info().Str("session_id", session.ID).Bool("existing_customer", params.Customer != nil).Msg("checkout session created")
	return session.URL, nil
}

// CreatePortalSession opens a billing portal session for customerID.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if customerID == "" {
		return "", ErrCustomerNotFound
	}
	session, err := c.sc.V1BillingPortalSessions.Create(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("stripe: create portal session: %w", err)
	}
	return session.URL, nil
}

// FindCustomerByEmail returns the id of the first customer with email.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)

	for cust, err := range c.sc.V1Customers.List(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("stripe: list customers: %w", err)
		}
		return cust.ID, nil
	}
	return "", ErrCustomerNotFound
}

// CustomerEmail resolves a customer id to its email address.
func (c *Client) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	cust, err := c.sc.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return "", ErrCustomerNotFound
		}
		return "", fmt.Errorf("stripe: retrieve customer: %w", err)
	}
	if cust.Deleted {
		return "", ErrCustomerNotFound
	}
	return cust.Email, nil
}

// LineItems returns the checkout line item for priceID, falling back to
// defaultPrice and then to the inline monthly price.
func LineItems(priceID, defaultPrice string) []*stripe.CheckoutSessionCreateLineItemParams {
	price := strings.TrimSpace(priceID)
	if price == "" {
		price = defaultPrice
	}
	if price != "" {
		return []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(price),
			Quantity: stripe.Int64(1),
		}}
	}

	return []*stripe.CheckoutSessionCreateLineItemParams{{
		PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
			Currency: stripe.String(defaultCurrency),
			ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
				Name: stripe.String(DefaultProductName),
			},
			UnitAmount: stripe.Int64(DefaultUnitAmount),
			Recurring: &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
				Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			},
		},
		Quantity: stripe.Int64(1),
	}}
}
