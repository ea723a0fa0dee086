package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/billing"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

const webhookSecret = "whsec_handler_test"

type recordingSubscribers struct {
	updates []models.SubscriberUpdate
	err     error
}

func (r *recordingSubscribers) UpsertSubscriber(_ context.Context, u models.SubscriberUpdate) error {
	if r.err != nil {
		return r.err
	}
	r.updates = append(r.updates, u)
	return nil
}

func webhookRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	if secret != "" {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    secret,
			Timestamp: time.Now(),
		})
		req.Header.Set("Stripe-Signature", signed.Header)
	}
	return req
}

func checkoutEvent() []byte {
	return []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1700000000,` +
		`"data":{"object":{"id":"cs_1","customer":"cus_1","customer_email":"a@b.com"}}}`)
}

func newWebhookHandler(t *testing.T, store *recordingSubscribers) http.HandlerFunc {
	t.Helper()
	verifier, err := billing.NewVerifier(webhookSecret)
	require.NoError(t, err)
	return StripeWebhook(verifier, billing.NewReconciler(store, nil, nil))
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	store := &recordingSubscribers{}
	rr := httptest.NewRecorder()
	newWebhookHandler(t, store).ServeHTTP(rr, webhookRequest(t, checkoutEvent(), webhookSecret))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["received"])
	require.Len(t, store.updates, 1)
	assert.Equal(t, "a@b.com", store.updates[0].Email)
	assert.Equal(t, models.SubscriberActive, store.updates[0].Status)
	require.NotNil(t, store.updates[0].Tier)
	assert.Equal(t, models.TierPro, *store.updates[0].Tier)
}

func TestStripeWebhookPaymentFailed(t *testing.T) {
	store := &recordingSubscribers{}
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.payment_failed","created":1700000000,` +
		`"data":{"object":{"id":"in_1","customer":"cus_1","customer_email":"a@b.com"}}}`)

	rr := httptest.NewRecorder()
	newWebhookHandler(t, store).ServeHTTP(rr, webhookRequest(t, payload, webhookSecret))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, store.updates, 1)
	assert.Equal(t, models.SubscriberExpired, store.updates[0].Status)
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	for name, secret := range map[string]string{"wrong secret": "whsec_other", "missing header": ""} {
		t.Run(name, func(t *testing.T) {
			store := &recordingSubscribers{}
			rr := httptest.NewRecorder()
			newWebhookHandler(t, store).ServeHTTP(rr, webhookRequest(t, checkoutEvent(), secret))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, store.updates)
		})
	}
}

func TestStripeWebhookStoreFailure(t *testing.T) {
	store := &recordingSubscribers{err: assert.AnError}
	rr := httptest.NewRecorder()
	newWebhookHandler(t, store).ServeHTTP(rr, webhookRequest(t, checkoutEvent(), webhookSecret))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "webhook processing failed", decodeBody(t, rr)["error"])
	assert.NotContains(t, rr.Body.String(), assert.AnError.Error())
}

func TestStripeWebhookUnknownEvent(t *testing.T) {
	store := &recordingSubscribers{}
	payload := []byte(`{"id":"evt_3","object":"event","type":"product.created","created":1,"data":{"object":{"id":"prod_1"}}}`)

	rr := httptest.NewRecorder()
	newWebhookHandler(t, store).ServeHTTP(rr, webhookRequest(t, payload, webhookSecret))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, store.updates)
}

func TestStripeWebhookNotConfigured(t *testing.T) {
	rr := httptest.NewRecorder()
	StripeWebhook(nil, nil).ServeHTTP(rr, webhookRequest(t, checkoutEvent(), webhookSecret))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStripeWebhookBodyLimit(t *testing.T) {
	store := &recordingSubscribers{}
	big := []byte(`{"pad":"` + strings.Repeat("x", maxWebhookBodyBytes) + `"}`)

	rr := httptest.NewRecorder()
	newWebhookHandler(t, store).ServeHTTP(rr, webhookRequest(t, big, webhookSecret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
