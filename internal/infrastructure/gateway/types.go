package gateway

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrRejected marks a definitive refusal by the processor (declined card,
// invalid request). Anything else coming out of a gateway call is transient.
var ErrRejected = errors.New("payment gateway rejected the request")

// Normalized intent statuses.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

type IntentRequest struct {
	TransactionNo string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Capture is the gateway's view of an intent when asked to confirm it.
type Capture struct {
	IntentID      string
	PaymentID     string
	Status        string
	Amount        decimal.Decimal
	Currency      string
	TransactionNo string
	FailureReason string
}

// Event is a verified webhook notification about one intent.
type Event struct {
	ID      string
	Type    string
	Capture Capture
}

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)
