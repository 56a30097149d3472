package job

import (
	"context"
	"log/slog"
	"time"

	"resellerpay/internal/config"
	"resellerpay/internal/service"
)

// IntentExpiryJob fails transactions whose intent was never opened because
// the gateway did not answer.
type IntentExpiryJob struct {
	payments  *service.PaymentService
	cfg       *config.Config
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewIntentExpiryJob(payments *service.PaymentService, cfg *config.Config, logger *slog.Logger) *IntentExpiryJob {
	return &IntentExpiryJob{
		payments:  payments,
		cfg:       cfg,
		logger:    logger.With("job", "intent_expiry"),
		stopCh:    make(chan struct{}),
		interval:  10 * time.Second,
		batchSize: 100,
	}
}

func (j *IntentExpiryJob) Start(ctx context.Context) {
	j.logger.Info("job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("context done, job exiting")
			return
		case <-j.stopCh:
			j.logger.Info("job stopped")
			return
		case <-ticker.C:
			j.expire(ctx)
		}
	}
}

func (j *IntentExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *IntentExpiryJob) expire(ctx context.Context) int {
	n, err := j.payments.ExpireCreated(ctx, j.cfg.Funding.IntentTimeout(), j.batchSize)
	if err != nil {
		j.logger.Error("expire stale transactions", "error", err)
		return 0
	}
	if n > 0 {
		j.logger.Info("expired stale transactions", "count", n)
	}
	return n
}

// ReconcileJob sweeps intents that were never confirmed against the
// gateway's records.
type ReconcileJob struct {
	payments  *service.PaymentService
	cfg       *config.Config
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewReconcileJob(payments *service.PaymentService, cfg *config.Config, logger *slog.Logger) *ReconcileJob {
	interval := time.Duration(cfg.Business.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReconcileJob{
		payments:  payments,
		cfg:       cfg,
		logger:    logger.With("job", "reconcile"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 50,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.logger.Info("job started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("context done, job exiting")
			return
		case <-j.stopCh:
			j.logger.Info("job stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileJob) sweep(ctx context.Context) service.ReconcileReport {
	olderThan := time.Duration(j.cfg.Business.ReconcileAfterMinutes) * time.Minute
	report, err := j.payments.Reconcile(ctx, olderThan, j.batchSize)
	if err != nil {
		j.logger.Error("reconcile sweep", "error", err)
		return report
	}
	if report.Checked > 0 {
		j.logger.Info("reconcile sweep done",
			"checked", report.Checked, "credited", report.Credited,
			"failed", report.Failed, "expired", report.Expired, "alarms", report.Alarms)
	}
	return report
}
