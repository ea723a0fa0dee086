package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
	stripeclient "github.com/PortNumber53/buildforme-dashboard/backend/internal/stripe"
)

type mockSubscribers struct {
	sub *models.Subscriber
	err error
}

func (m *mockSubscribers) GetSubscriberByEmail(context.Context, string) (*models.Subscriber, error) {
	return m.sub, m.err
}

type mockBilling struct {
	checkout   stripeclient.CheckoutRequest
	portalCust string
	customerID string
	err        error
}

func (m *mockBilling) CreateCheckoutSession(_ context.Context, req stripeclient.CheckoutRequest) (string, error) {
	m.checkout = req
	return "https://checkout.example/cs", m.err
}

func (m *mockBilling) CreatePortalSession(_ context.Context, customerID, _ string) (string, error) {
	m.portalCust = customerID
	return "https://portal.example/ps", m.err
}

func (m *mockBilling) FindCustomerByEmail(context.Context, string) (string, error) {
	if m.customerID == "" {
		return "", stripeclient.ErrCustomerNotFound
	}
	return m.customerID, nil
}

func TestSubscriptionActive(t *testing.T) {
	tier := models.TierPro
	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	subs := &mockSubscribers{sub: &models.Subscriber{Email: "owner@example.com", Status: models.SubscriberActive, Tier: &tier, SubscriptionEnd: &end}}

	rr := httptest.NewRecorder()
	Subscription(subs).ServeHTTP(rr, newRequest(t, http.MethodGet, "/api/billing/subscription", nil, testCaller()))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["subscribed"])
	assert.Equal(t, "active", body["subscription_status"])
	assert.Equal(t, "pro", body["subscription_tier"])
}

func TestSubscriptionMissingRow(t *testing.T) {
	rr := httptest.NewRecorder()
	Subscription(&mockSubscribers{}).ServeHTTP(rr, newRequest(t, http.MethodGet, "/api/billing/subscription", nil, testCaller()))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["subscribed"])
	assert.Equal(t, "inactive", body["subscription_status"])
}

func TestSubscriptionStoreError(t *testing.T) {
	rr := httptest.NewRecorder()
	Subscription(&mockSubscribers{err: errors.New("db down")}).ServeHTTP(rr, newRequest(t, http.MethodGet, "/", nil, testCaller()))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCheckoutDefaultsURLsFromOrigin(t *testing.T) {
	provider := &mockBilling{}
	req := newRequest(t, http.MethodPost, "/api/billing/checkout", map[string]string{"guild_id": "g1", "guild_name": "One"}, testCaller())
	req.Header.Set("Origin", "https://app.example/")

	rr := httptest.NewRecorder()
	Checkout(provider).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://checkout.example/cs", decodeBody(t, rr)["url"])
	assert.Equal(t, "owner@example.com", provider.checkout.Email)
	assert.Equal(t, "user-1", provider.checkout.UserID)
	assert.Equal(t, "g1", provider.checkout.GuildID)
	assert.Equal(t, "https://app.example/dashboard?session_id={CHECKOUT_SESSION_ID}", provider.checkout.SuccessURL)
	assert.Equal(t, "https://app.example/dashboard", provider.checkout.CancelURL)
}

func TestCheckoutValidation(t *testing.T) {
	rr := httptest.NewRecorder()
	Checkout(&mockBilling{}).ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/billing/checkout", nil, testCaller()))
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no origin and no urls")

	rr = httptest.NewRecorder()
	Checkout(nil).ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/billing/checkout", nil, testCaller()))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	noEmail := testCaller()
	noEmail.Email = ""
	rr = httptest.NewRecorder()
	Checkout(&mockBilling{}).ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/billing/checkout",
		map[string]string{"success_url": "https://a", "cancel_url": "https://b"}, noEmail))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPortalUsesRecordedCustomer(t *testing.T) {
	cust := "cus_recorded"
	provider := &mockBilling{customerID: "cus_lookup"}
	subs := &mockSubscribers{sub: &models.Subscriber{StripeCustomerID: &cust}}

	rr := httptest.NewRecorder()
	Portal(subs, provider).ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/billing/portal",
		map[string]string{"return_url": "https://app.example/dashboard"}, testCaller()))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cus_recorded", provider.portalCust)
}

func TestPortalFallsBackToLookup(t *testing.T) {
	provider := &mockBilling{customerID: "cus_lookup"}

	rr := httptest.NewRecorder()
	Portal(&mockSubscribers{}, provider).ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/billing/portal",
		map[string]string{"return_url": "https://app.example/dashboard"}, testCaller()))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cus_lookup", provider.portalCust)
}

func TestPortalWithoutCustomer(t *testing.T) {
	rr := httptest.NewRecorder()
	Portal(&mockSubscribers{}, &mockBilling{}).ServeHTTP(rr, newRequest(t, http.MethodPost, "/api/billing/portal",
		map[string]string{"return_url": "https://app.example/dashboard"}, testCaller()))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
