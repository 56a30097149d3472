package job

import (
	"context"
	"testing"
	"time"

	"resellerpay/internal/infrastructure/mq"
	"resellerpay/internal/logging"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"
	"resellerpay/internal/service"
	"resellerpay/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(t *testing.T, repo *repository.OutboxRepository, key string) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{MessageKey: key, Topic: "wallet-events", EventType: model.EventLedgerCredited, Payload: "{}", Status: model.OutboxStatusPending}
	require.NoError(t, repo.Create(context.Background(), nil, msg))
	return msg
}

func TestOutboxSender_SendsAndRetries(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	cfg := testutil.NewTestConfig()
	repo := repository.NewOutboxRepository(db)

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	publisher := mq.NewPublisher(producer)
	t.Cleanup(func() { publisher.Close() })

	sender := NewOutboxSender(db, publisher, cfg, logging.Discard())

	ok := stage(t, repo, "FND-ok")
	bad := stage(t, repo, "FND-bad")

	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	assert.Equal(t, 1, sender.processPendingMessages(ctx))

	// The failing message is retried until max_retry_count, then parked.
	for i := 1; i < cfg.Business.MaxRetryCount; i++ {
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		assert.Equal(t, 0, sender.processPendingMessages(ctx))
	}

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var got model.OutboxMessage
	require.NoError(t, db.First(&got, ok.ID).Error)
	assert.Equal(t, model.OutboxStatusSent, got.Status)
	require.NoError(t, db.First(&got, bad.ID).Error)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, cfg.Business.MaxRetryCount, got.RetryCount)
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := testutil.NewTestDB(t)
	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	publisher := mq.NewPublisher(producer)
	t.Cleanup(func() { publisher.Close() })

	sender := NewOutboxSender(db, publisher, testutil.NewTestConfig(), logging.Discard())
	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()
	sender.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func newPaymentService(t *testing.T) (*service.PaymentService, *testutil.FakeGateway, *repository.PaymentRepository) {
	t.Helper()
	db := testutil.NewTestDB(t)
	rdb, _ := testutil.NewTestRedis(t)
	cfg := testutil.NewTestConfig()
	gw := testutil.NewFakeGateway()

	require.NoError(t, repository.NewPermissionRepository(db).Upsert(context.Background(),
		&model.FundingPermission{UserID: 1, CanAddFunds: true}))

	payments := service.NewPaymentService(db, rdb, cfg, gw,
		service.NewFundingPolicy(db, cfg), service.NewLedgerService(db), logging.Discard())
	return payments, gw, repository.NewPaymentRepository(db)
}

func TestReconcileJob_Sweep(t *testing.T) {
	ctx := context.Background()
	payments, gw, repo := newPaymentService(t)
	cfg := testutil.NewTestConfig()
	cfg.Business.ReconcileAfterMinutes = 0

	res, err := payments.CreateIntent(ctx, &service.CreateIntentRequest{UserID: 1, Amount: decimal.NewFromInt(20), PaymentMethod: "credit_card"})
	require.NoError(t, err)
	txn, err := repo.GetByTransactionNo(ctx, nil, res.TransactionID)
	require.NoError(t, err)
	gw.Succeed(txn.IntentID(), "ch_1")

	// updated_at must be strictly before the sweep cutoff.
	time.Sleep(10 * time.Millisecond)

	job := NewReconcileJob(payments, cfg, logging.Discard())
	report := job.sweep(ctx)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Credited)

	txn, err = repo.GetByTransactionNo(ctx, nil, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateLedgerCredited, txn.State)
}

func TestIntentExpiryJob_Expire(t *testing.T) {
	ctx := context.Background()
	payments, _, _ := newPaymentService(t)

	job := NewIntentExpiryJob(payments, testutil.NewTestConfig(), logging.Discard())
	assert.Zero(t, job.expire(ctx))
}
