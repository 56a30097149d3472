package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStateCreated           = "created"
	PaymentStateIntentCreated     = "intent_created"
	PaymentStateGatewayConfirmed  = "gateway_confirmed"
	PaymentStateLedgerCredited    = "ledger_credited"
	PaymentStateFailed            = "failed"
	PaymentStateConfirmationError = "confirmation_error"
)

// ValidStateTransitions is the only path a PaymentTransaction may move along.
// ledger_credited, failed and confirmation_error are terminal.
var ValidStateTransitions = map[string][]string{
	PaymentStateCreated:          {PaymentStateIntentCreated, PaymentStateFailed, PaymentStateConfirmationError},
	PaymentStateIntentCreated:    {PaymentStateGatewayConfirmed, PaymentStateFailed, PaymentStateConfirmationError},
	PaymentStateGatewayConfirmed: {PaymentStateLedgerCredited, PaymentStateFailed, PaymentStateConfirmationError},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowed, exists := ValidStateTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetState {
			return true
		}
	}
	return false
}

func IsTerminalState(state string) bool {
	_, open := ValidStateTransitions[state]
	return !open
}

// InFlightStates count against funding caps until they resolve.
var InFlightStates = []string{
	PaymentStateCreated,
	PaymentStateIntentCreated,
	PaymentStateGatewayConfirmed,
}

// Client-visible statuses.
const (
	ClientStatusPending   = "pending"
	ClientStatusSucceeded = "succeeded"
	ClientStatusFailed    = "failed"
)

// ClientStatus collapses the internal state machine to what a payer may see.
func ClientStatus(state string) string {
	switch state {
	case PaymentStateLedgerCredited:
		return ClientStatusSucceeded
	case PaymentStateFailed, PaymentStateConfirmationError:
		return ClientStatusFailed
	default:
		return ClientStatusPending
	}
}

// PaymentTransaction is one funding attempt.
type PaymentTransaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_id"`
	UserID           int64           `gorm:"index;not null" json:"user_id"`
	RequestedBy      int64           `gorm:"not null" json:"requested_by"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(8);not null" json:"currency"`
	PaymentMethod    string          `gorm:"type:varchar(32);not null" json:"payment_method"`
	State            string          `gorm:"type:varchar(24);index;not null" json:"state"`
	GatewayIntentID  *string         `gorm:"type:varchar(128);uniqueIndex" json:"gateway_intent_id,omitempty"`
	GatewayPaymentID *string         `gorm:"type:varchar(128)" json:"gateway_payment_id,omitempty"`
	FailureReason    string          `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	CreditedAt       *time.Time      `json:"credited_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transaction"
}

func (t *PaymentTransaction) IntentID() string {
	if t.GatewayIntentID == nil {
		return ""
	}
	return *t.GatewayIntentID
}
