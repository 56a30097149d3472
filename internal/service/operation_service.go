package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"resellerpay/internal/config"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"
	"resellerpay/pkg/idgen"

	"gorm.io/gorm"
)

// OperationService hands approved provisioning operations (activation, SIM
// swap, recharge) to the carrier side through the outbox. It does not
// provision anything itself.
type OperationService struct {
	outboxRepo *repository.OutboxRepository
	topic      string
	logger     *slog.Logger
}

func NewOperationService(db *gorm.DB, cfg *config.Config, logger *slog.Logger) *OperationService {
	return &OperationService{
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      cfg.Kafka.Topic.OperationEvents,
		logger:     logger,
	}
}

type ApprovedOperation struct {
	OperationID      string          `json:"operationId"`
	OperationType    string          `json:"operationType"`
	OperationDetails string          `json:"operationDetails,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	RequestedBy      int64           `json:"requestedBy"`
	VerifiedBy       string          `json:"verifiedBy,omitempty"`
	ApprovedAt       time.Time       `json:"approvedAt"`
}

// Resumer returns the gate resumer that approves parked operations.
func (s *OperationService) Resumer() Resumer {
	return func(ctx context.Context, p model.Principal, action *model.PendingAction, verifiedBy string) (interface{}, error) {
		return s.Approve(ctx, p, action, verifiedBy)
	}
}

func (s *OperationService) Approve(ctx context.Context, p model.Principal, action *model.PendingAction, verifiedBy string) (*ApprovedOperation, error) {
	if len(action.Payload) > 0 && !json.Valid(action.Payload) {
		return nil, newError(KindInvalidInput, "operation payload must be valid JSON", nil)
	}

	op := &ApprovedOperation{
		OperationID:      idgen.GenerateOperationNo(),
		OperationType:    action.OperationType,
		OperationDetails: action.OperationDetails,
		Payload:          action.Payload,
		RequestedBy:      p.ID,
		VerifiedBy:       verifiedBy,
		ApprovedAt:       time.Now().UTC(),
	}
	if err := writeOutbox(ctx, s.outboxRepo, nil, s.topic, op.OperationID, model.EventOperationApproved, op); err != nil {
		return nil, fmt.Errorf("stage approved operation: %w", err)
	}

	s.logger.InfoContext(ctx, "guarded operation approved",
		"operation_id", op.OperationID, "operation", op.OperationType, "principal_id", p.ID)
	return op, nil
}
