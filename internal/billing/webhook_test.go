package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
)

const testSecret = "whsec_test"

var testPayload = []byte(`{
  "id": "evt_123",
  "object": "event",
  "type": "checkout.session.completed",
  "created": 1700000000,
  "data": {"object": {"id": "cs_1", "customer_email": "buyer@example.com"}}
}`)

func signed(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	event, err := v.Verify(testPayload, signed(t, testPayload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.EqualValues(t, "checkout.session.completed", event.Type)
	require.NotNil(t, event.Data)
	assert.NotEmpty(t, event.Data.Raw)
}

func TestVerifyRejectsBadSignatures(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	tests := map[string]string{
		"missing":      "",
		"wrong secret": signed(t, testPayload, "whsec_other"),
		"garbage":      "t=1,v1=deadbeef",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(testPayload, header)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)
	header := signed(t, testPayload, testSecret)
	tampered := append([]byte{}, testPayload...)
	tampered[len(tampered)-2] = ' '

	_, err = v.Verify(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}
