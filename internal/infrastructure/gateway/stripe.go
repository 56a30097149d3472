package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const metadataTransactionNo = "transaction_no"

// Stripe talks to the Stripe PaymentIntents API. The service never handles
// card data: the client secret goes back to the payer, who completes the
// payment with Stripe directly.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	return &Stripe{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
	}
}

func (s *Stripe) OpenIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(toMinorUnits(req.Amount)),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice(methodTypes(req.PaymentMethod)),
	}
	params.Context = ctx
	// Retries for the same transaction must never open a second intent.
	params.IdempotencyKey = stripe.String(req.TransactionNo)
	params.AddMetadata(metadataTransactionNo, req.TransactionNo)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify("open intent", err)
	}
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       normalizeStatus(pi.Status),
	}, nil
}

// CaptureConfirmation fetches the intent and checks that paymentID refers to
// it, either as the intent id itself or as its latest charge.
func (s *Stripe) CaptureConfirmation(ctx context.Context, intentID, paymentID string) (*Capture, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, classify("retrieve intent", err)
	}

	capture := captureFromIntent(pi)
	if paymentID != "" && paymentID != pi.ID && paymentID != capture.PaymentID {
		return nil, fmt.Errorf("%w: payment %s does not belong to intent %s", ErrRejected, paymentID, pi.ID)
	}
	return capture, nil
}

func (s *Stripe) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return classify("cancel intent", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes intent events.
// Other event types come back with an empty Capture.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Capture = *captureFromIntent(&pi)
	}
	return out, nil
}

func captureFromIntent(pi *stripe.PaymentIntent) *Capture {
	c := &Capture{
		IntentID:      pi.ID,
		Status:        normalizeStatus(pi.Status),
		Amount:        fromMinorUnits(pi.Amount),
		Currency:      string(pi.Currency),
		TransactionNo: pi.Metadata[metadataTransactionNo],
	}
	if pi.LatestCharge != nil {
		c.PaymentID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		c.FailureReason = pi.LastPaymentError.Msg
	}
	return c
}

func normalizeStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Stripe returns here after a declined attempt; the payer may retry
		// with another card, so it stays pending until the intent expires.
		return StatusPending
	default:
		return StatusPending
	}
}

func methodTypes(paymentMethod string) []string {
	switch paymentMethod {
	case "credit_card", "debit_card", "card":
		return []string{"card"}
	default:
		return []string{paymentMethod}
	}
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func classify(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		switch serr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%s: %w: %s", op, ErrRejected, serr.Msg)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
