package gateway

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(5000), toMinorUnits(decimal.RequireFromString("50")))
	assert.Equal(t, int64(1999), toMinorUnits(decimal.RequireFromString("19.99")))
	assert.True(t, fromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusSucceeded, normalizeStatus(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, StatusCanceled, normalizeStatus(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, StatusPending, normalizeStatus(stripe.PaymentIntentStatusProcessing))
	assert.Equal(t, StatusPending, normalizeStatus(stripe.PaymentIntentStatusRequiresPaymentMethod))
}

func TestMethodTypes(t *testing.T) {
	assert.Equal(t, []string{"card"}, methodTypes("credit_card"))
	assert.Equal(t, []string{"card"}, methodTypes("debit_card"))
	assert.Equal(t, []string{"us_bank_account"}, methodTypes("us_bank_account"))
}

func TestParseWebhook_SucceededEvent(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_123",
			"object": "payment_intent",
			"amount": 5000,
			"currency": "usd",
			"status": "succeeded",
			"metadata": {"transaction_no": "FND42"}
		}}
	}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})

	gw := NewStripe("sk_test", secret)
	ev, err := gw.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventIntentSucceeded, ev.Type)
	assert.Equal(t, "pi_123", ev.Capture.IntentID)
	assert.Equal(t, StatusSucceeded, ev.Capture.Status)
	assert.Equal(t, "FND42", ev.Capture.TransactionNo)
	assert.True(t, ev.Capture.Amount.Equal(decimal.NewFromInt(50)))
}

func TestParseWebhook_BadSignature(t *testing.T) {
	gw := NewStripe("sk_test", "whsec_test")
	_, err := gw.ParseWebhook([]byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrRejected)
}
