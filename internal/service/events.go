package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resellerpay/internal/model"
	"resellerpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// walletEvent is the payload of every wallet and alarm outbox message.
type walletEvent struct {
	EventType     string           `json:"event_type"`
	TransactionNo string           `json:"transaction_no,omitempty"`
	UserID        int64            `json:"user_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Balance       *decimal.Decimal `json:"balance,omitempty"`
	State         string           `json:"state,omitempty"`
	IntentID      string           `json:"intent_id,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

func txnEvent(eventType string, txn *model.PaymentTransaction, reason string) walletEvent {
	amount := txn.Amount
	return walletEvent{
		EventType:     eventType,
		TransactionNo: txn.TransactionNo,
		UserID:        txn.UserID,
		Amount:        &amount,
		State:         txn.State,
		IntentID:      txn.IntentID(),
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}
}

// writeOutbox stages an event in tx so it is published only if tx commits.
func writeOutbox(ctx context.Context, repo *repository.OutboxRepository, tx *gorm.DB, topic, key, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return repo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	})
}
