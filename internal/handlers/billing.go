package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/auth"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
	stripeclient "github.com/PortNumber53/buildforme-dashboard/backend/internal/stripe"
)

// SubscriberReader looks up subscriber rows.
type SubscriberReader interface {
	GetSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error)
}

// BillingProvider creates hosted Stripe sessions.
type BillingProvider interface {
	CreateCheckoutSession(ctx context.Context, req stripeclient.CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
}

type subscriptionResponse struct {
	Subscribed         bool       `json:"subscribed"`
	SubscriptionStatus string     `json:"subscription_status"`
	SubscriptionTier   *string    `json:"subscription_tier,omitempty"`
	SubscriptionEnd    *time.Time `json:"subscription_end,omitempty"`
}

// Subscription reports the caller's account-level subscription.
func Subscription(subscribers SubscriberReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Email == "" {
			writeJSON(w, http.StatusOK, subscriptionResponse{SubscriptionStatus: "inactive"})
			return
		}

		sub, err := subscribers.GetSubscriberByEmail(r.Context(), caller.Email)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("user_id", caller.ID).Msg("failed to load subscriber")
			writeError(w, http.StatusInternalServerError, "failed to load subscription")
			return
		}
		if sub == nil {
			writeJSON(w, http.StatusOK, subscriptionResponse{SubscriptionStatus: "inactive"})
			return
		}

		writeJSON(w, http.StatusOK, subscriptionResponse{
			Subscribed:         sub.Subscribed(),
			SubscriptionStatus: string(sub.Status),
			SubscriptionTier:   sub.Tier,
			SubscriptionEnd:    sub.SubscriptionEnd,
		})
	}
}

type checkoutRequest struct {
	PriceID    string `json:"price_id"`
	GuildID    string `json:"guild_id"`
	GuildName  string `json:"guild_name"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// Checkout starts a Stripe Checkout session for the caller.
func Checkout(provider BillingProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			writeError(w, http.StatusServiceUnavailable, "billing is not configured")
			return
		}
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if caller.Email == "" {
			writeError(w, http.StatusBadRequest, "email not available for this account")
			return
		}

		var payload checkoutRequest
		if err := decodeOptional(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		origin := strings.TrimRight(r.Header.Get("Origin"), "/")
		successURL := firstNonEmpty(payload.SuccessURL, joinOrigin(origin, "/dashboard?session_id={CHECKOUT_SESSION_ID}"))
		cancelURL := firstNonEmpty(payload.CancelURL, joinOrigin(origin, "/dashboard"))
		if successURL == "" || cancelURL == "" {
			writeError(w, http.StatusBadRequest, "success_url and cancel_url are required")
			return
		}

		url, err := provider.CreateCheckoutSession(r.Context(), stripeclient.CheckoutRequest{
			Email:      caller.Email,
			UserID:     caller.ID,
			PriceID:    payload.PriceID,
			GuildID:    payload.GuildID,
			GuildName:  payload.GuildName,
			SuccessURL: successURL,
			CancelURL:  cancelURL,
		})
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("user_id", caller.ID).Msg("failed to create checkout session")
			writeError(w, http.StatusInternalServerError, "failed to create checkout session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

// Portal opens the Stripe customer portal for the caller.
func Portal(subscribers SubscriberReader, provider BillingProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			writeError(w, http.StatusServiceUnavailable, "billing is not configured")
			return
		}
		caller, ok := auth.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		var payload portalRequest
		if err := decodeOptional(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		returnURL := firstNonEmpty(payload.ReturnURL, joinOrigin(strings.TrimRight(r.Header.Get("Origin"), "/"), "/dashboard"))
		if returnURL == "" {
			writeError(w, http.StatusBadRequest, "return_url is required")
			return
		}

		logger := hlog.FromRequest(r)
		customerID, err := resolveCustomer(r.Context(), caller.Email, subscribers, provider)
		switch {
		case errors.Is(err, stripeclient.ErrCustomerNotFound):
			writeError(w, http.StatusNotFound, "no billing account found")
			return
		case err != nil:
			logger.Error().Err(err).Str("user_id", caller.ID).Msg("failed to resolve stripe customer")
			writeError(w, http.StatusInternalServerError, "failed to resolve billing account")
			return
		}

		url, err := provider.CreatePortalSession(r.Context(), customerID, returnURL)
		if err != nil {
			logger.Error().Err(err).Str("user_id", caller.ID).Msg("failed to create portal session")
			writeError(w, http.StatusInternalServerError, "failed to create portal session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// resolveCustomer prefers the customer id recorded by webhooks and falls back
// to a Stripe lookup by email.
func resolveCustomer(ctx context.Context, email string, subscribers SubscriberReader, provider BillingProvider) (string, error) {
	if email == "" {
		return "", stripeclient.ErrCustomerNotFound
	}
	if subscribers != nil {
		sub, err := subscribers.GetSubscriberByEmail(ctx, email)
		if err != nil {
			return "", err
		}
		if sub != nil && sub.StripeCustomerID != nil && *sub.StripeCustomerID != "" {
			return *sub.StripeCustomerID, nil
		}
	}
	return provider.FindCustomerByEmail(ctx, email)
}

func joinOrigin(origin, path string) string {
	if origin == "" {
		return ""
	}
	return origin + path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
