package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/stripe/stripe-go/v83"
)

const maxWebhookBodyBytes = 256 * 1024

// WebhookVerifier authenticates a raw webhook payload.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// EventApplier applies a verified Stripe event.
type EventApplier interface {
	Apply(ctx context.Context, event stripe.Event) (bool, error)
}

// StripeWebhook verifies and applies Stripe webhook deliveries. Database
// failures answer 500 so Stripe retries the delivery.
func StripeWebhook(verifier WebhookVerifier, applier EventApplier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier == nil || applier == nil {
			writeError(w, http.StatusServiceUnavailable, "webhook not configured")
			return
		}
		logger := hlog.FromRequest(r)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		event, err := verifier.Verify(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			logger.Warn().Err(err).Msg("rejected stripe webhook")
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		handled, err := applier.Apply(r.Context(), event)
		if err != nil {
			logger.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("stripe webhook failed")
			writeError(w, http.StatusInternalServerError, "webhook processing failed")
			return
		}

		logger.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Bool("handled", handled).Msg("stripe webhook processed")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
