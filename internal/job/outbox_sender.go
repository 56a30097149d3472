package job

import (
	"context"
	"log/slog"
	"time"

	"resellerpay/internal/config"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"

	"gorm.io/gorm"
)

// Publisher is the Kafka side of the outbox relay.
type Publisher interface {
	Publish(topic, key, eventType, value string) error
}

// OutboxSender relays staged outbox messages to Kafka. A message that keeps
// failing is parked as FAILED after business.max_retry_count attempts.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        *config.Config
	logger     *slog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, logger *slog.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.With("job", "outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("job started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, job exiting")
			return
		case <-s.stopCh:
			s.logger.Info("job stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load pending messages", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.EventType, msg.Payload)
	if err == nil {
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			s.logger.Error("mark message sent", "id", msg.ID, "error", err)
			return false
		}
		s.logger.Debug("message sent", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		return true
	}

	s.logger.Warn("publish failed", "id", msg.ID, "topic", msg.Topic, "error", err)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.logger.Error("increment retry count", "id", msg.ID, "error", err)
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.logger.Error("mark message failed", "id", msg.ID, "error", err)
		} else {
			s.logger.Error("message exceeded retry limit", "id", msg.ID, "event_type", msg.EventType, "key", msg.MessageKey)
		}
	}
	return false
}
