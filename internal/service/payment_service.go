package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"resellerpay/internal/config"
	"resellerpay/internal/infrastructure/gateway"
	"resellerpay/internal/infrastructure/lock"
	"resellerpay/internal/model"
	"resellerpay/internal/repository"
	"resellerpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentGateway is the external processor the orchestrator drives.
type PaymentGateway interface {
	OpenIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error)
	CaptureConfirmation(ctx context.Context, intentID, paymentID string) (*gateway.Capture, error)
	CancelIntent(ctx context.Context, intentID string) error
	ParseWebhook(payload []byte, signature string) (*gateway.Event, error)
}

const contactSupport = "payment could not be confirmed, contact support"

// PaymentService turns funding requests into at most one wallet credit each.
//
// A transaction moves created -> intent_created -> gateway_confirmed ->
// ledger_credited, or ends in failed or confirmation_error. Gateway calls
// never run under a lock; the confirm step takes the user's ledger lock and
// does both transitions, the ledger append and the balance update in one
// database transaction. Whichever confirm wins the intent_created CAS
// credits; every other caller sees AlreadyProcessed.
type PaymentService struct {
	db          *gorm.DB
	cfg         *config.Config
	gateway     PaymentGateway
	policy      *FundingPolicy
	ledger      *LedgerService
	paymentRepo *repository.PaymentRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
	locker      *lock.UserLocker
	logger      *slog.Logger
	now         func() time.Time
}

func NewPaymentService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gw PaymentGateway, policy *FundingPolicy, ledger *LedgerService, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		db:          db,
		cfg:         cfg,
		gateway:     gw,
		policy:      policy,
		ledger:      ledger,
		paymentRepo: repository.NewPaymentRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		locker:      lock.NewUserLocker(redisClient),
		logger:      logger,
		now:         time.Now,
	}
}

type CreateIntentRequest struct {
	UserID        int64           `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	RequestedBy   int64           `json:"-"`
}

type CreateIntentResult struct {
	ClientSecret  string `json:"clientSecret"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

type ConfirmResult struct {
	TransactionID string          `json:"transactionId"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
}

// Validate checks the request shape against the configured funding bounds
// and payment methods. It does not consult the funding policy.
func (s *PaymentService) Validate(req *CreateIntentRequest) error {
	if req.UserID <= 0 {
		return newError(KindInvalidInput, "userId is required", nil)
	}
	lo, hi := s.cfg.Funding.MinAmountDecimal(), s.cfg.Funding.MaxAmountDecimal()
	if req.Amount.LessThan(lo) || req.Amount.GreaterThan(hi) {
		return newError(KindInvalidInput, fmt.Sprintf("amount must be between %s and %s", lo.StringFixed(2), hi.StringFixed(2)), nil)
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return newError(KindInvalidInput, "amount must have at most two decimal places", nil)
	}
	for _, m := range s.cfg.Funding.PaymentMethods {
		if m == req.PaymentMethod {
			return nil
		}
	}
	return newError(KindInvalidInput, fmt.Sprintf("unsupported payment method %q", req.PaymentMethod), nil)
}

// CreateIntent re-checks the funding policy, records a created transaction
// and opens a gateway intent for it. The policy check and the insert share
// the user's funding lock so concurrent requests cannot overshoot a cap.
func (s *PaymentService) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*CreateIntentResult, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	txn := &model.PaymentTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        req.UserID,
		RequestedBy:   req.RequestedBy,
		Amount:        req.Amount,
		Currency:      s.cfg.Funding.Currency,
		PaymentMethod: req.PaymentMethod,
		State:         model.PaymentStateCreated,
	}

	err := s.locker.WithFundingLock(ctx, req.UserID, func() error {
		decision, err := s.policy.CanRequestFunding(ctx, nil, req.UserID, req.Amount)
		if err != nil {
			return err
		}
		if err := decision.Err(); err != nil {
			return err
		}
		return s.paymentRepo.Create(ctx, nil, txn)
	})
	if err != nil {
		var svcErr *Error
		if errors.As(err, &svcErr) {
			s.logger.InfoContext(ctx, "funding request denied",
				"user_id", req.UserID, "amount", req.Amount.String(), "reason", svcErr.Message)
			return nil, err
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	intent, err := s.gateway.OpenIntent(ctx, gateway.IntentRequest{
		TransactionNo: txn.TransactionNo,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		PaymentMethod: txn.PaymentMethod,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			if ferr := s.markFailed(ctx, txn, model.PaymentStateCreated, "gateway rejected intent"); ferr != nil {
				s.logger.ErrorContext(ctx, "mark transaction failed", "transaction_no", txn.TransactionNo, "error", ferr)
			}
			return nil, newError(KindGatewayError, "the payment processor rejected the request", err)
		}
		// Left in created; the expiry job fails it if the gateway never answers.
		s.logger.WarnContext(ctx, "open intent failed", "transaction_no", txn.TransactionNo, "error", err)
		return nil, newError(KindGatewayError, "the payment processor is unavailable, try again", err)
	}

	err = s.paymentRepo.UpdateState(ctx, nil, txn.TransactionNo, model.PaymentStateCreated, model.PaymentStateIntentCreated,
		map[string]interface{}{"gateway_intent_id": intent.ID})
	if err != nil {
		return nil, fmt.Errorf("record intent: %w", err)
	}

	s.logger.InfoContext(ctx, "payment intent created",
		"transaction_no", txn.TransactionNo, "user_id", txn.UserID, "amount", txn.Amount.String(), "intent_id", intent.ID)

	return &CreateIntentResult{
		ClientSecret:  intent.ClientSecret,
		TransactionID: txn.TransactionNo,
		Status:        model.ClientStatusPending,
	}, nil
}

// ConfirmPayment is the client-driven confirmation. It asks the gateway
// whether paymentIntentID was captured for the transaction's intent and
// credits the wallet if so.
func (s *PaymentService) ConfirmPayment(ctx context.Context, transactionNo, paymentIntentID string) (*ConfirmResult, error) {
	txn, err := s.loadForConfirm(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, txn, paymentIntentID)
}

// ConfirmPaymentAs is ConfirmPayment on behalf of p, who must be allowed to
// act on the transaction's wallet.
func (s *PaymentService) ConfirmPaymentAs(ctx context.Context, p model.Principal, transactionNo, paymentIntentID string) (*ConfirmResult, error) {
	txn, err := s.loadForConfirm(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if !p.CanActFor(txn.UserID) {
		s.logger.WarnContext(ctx, "confirm for another user's transaction",
			"transaction_no", transactionNo, "principal_id", p.ID)
		return nil, newError(KindForbidden, "cannot confirm another user's payment", nil)
	}
	return s.confirm(ctx, txn, paymentIntentID)
}

func (s *PaymentService) loadForConfirm(ctx context.Context, transactionNo string) (*model.PaymentTransaction, error) {
	txn, err := s.paymentRepo.GetByTransactionNo(ctx, nil, transactionNo)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			s.logger.WarnContext(ctx, "confirm for unknown transaction", "transaction_no", transactionNo)
			return nil, newError(KindConfirmationMismatch, "unknown transaction", err)
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return txn, nil
}

func (s *PaymentService) confirm(ctx context.Context, txn *model.PaymentTransaction, paymentIntentID string) (*ConfirmResult, error) {
	transactionNo := txn.TransactionNo

	if paymentIntentID != "" && paymentIntentID != txn.IntentID() {
		s.logger.WarnContext(ctx, "confirm with foreign intent", "transaction_no", transactionNo, "intent_id", paymentIntentID)
		return nil, newError(KindConfirmationMismatch, "payment does not belong to this transaction", nil)
	}

	switch txn.State {
	case model.PaymentStateIntentCreated:
	case model.PaymentStateLedgerCredited, model.PaymentStateGatewayConfirmed:
		return nil, newError(KindAlreadyProcessed, "payment already processed", nil)
	case model.PaymentStateFailed:
		return nil, s.confirmFailed(ctx, txn, paymentIntentID)
	default:
		s.logger.WarnContext(ctx, "confirm for transaction not awaiting confirmation",
			"transaction_no", transactionNo, "state", txn.State)
		return nil, newError(KindConfirmationMismatch, "transaction is not awaiting confirmation", nil)
	}

	capture, err := s.gateway.CaptureConfirmation(ctx, txn.IntentID(), paymentIntentID)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			return nil, newError(KindConfirmationMismatch, "payment does not belong to this transaction", err)
		}
		return nil, newError(KindGatewayError, "could not reach the payment processor, try again", err)
	}

	return s.settle(ctx, txn, capture)
}

// confirmFailed handles a confirm for a transaction already failed. A
// gateway that now reports the payment captured raises an integrity alarm;
// failed is terminal, so the wallet is never credited from here.
func (s *PaymentService) confirmFailed(ctx context.Context, txn *model.PaymentTransaction, paymentIntentID string) error {
	notAwaiting := newError(KindConfirmationMismatch, "transaction is not awaiting confirmation", nil)
	if txn.IntentID() == "" {
		return notAwaiting
	}

	capture, err := s.gateway.CaptureConfirmation(ctx, txn.IntentID(), paymentIntentID)
	if err != nil {
		s.logger.WarnContext(ctx, "confirm for failed transaction, gateway lookup failed",
			"transaction_no", txn.TransactionNo, "error", err)
		return notAwaiting
	}
	if capture.Status != gateway.StatusSucceeded {
		s.logger.WarnContext(ctx, "confirm for failed transaction", "transaction_no", txn.TransactionNo)
		return notAwaiting
	}

	if err := s.alarmUnmatched(ctx, capture, txn, "gateway reports success for failed transaction"); err != nil {
		return fmt.Errorf("raise integrity alarm: %w", err)
	}
	return newError(KindIntegrityAlarm, contactSupport, nil)
}

// settle applies the gateway's verdict to an intent_created transaction.
func (s *PaymentService) settle(ctx context.Context, txn *model.PaymentTransaction, capture *gateway.Capture) (*ConfirmResult, error) {
	switch capture.Status {
	case gateway.StatusSucceeded:
	case gateway.StatusFailed, gateway.StatusCanceled:
		reason := capture.FailureReason
		if reason == "" {
			reason = "payment " + capture.Status
		}
		if err := s.markFailed(ctx, txn, model.PaymentStateIntentCreated, reason); err != nil {
			return nil, err
		}
		return nil, newError(KindGatewayError, "the payment was not completed", nil)
	default:
		return nil, newError(KindGatewayError, "the payment has not completed yet", nil)
	}

	if reason := captureMismatch(txn, capture); reason != "" {
		return nil, s.confirmWithAlarm(ctx, txn, capture, reason)
	}
	return s.credit(ctx, txn, capture)
}

func captureMismatch(txn *model.PaymentTransaction, capture *gateway.Capture) string {
	switch {
	case !capture.Amount.Equal(txn.Amount):
		return fmt.Sprintf("gateway captured %s, transaction amount is %s", capture.Amount, txn.Amount)
	case capture.Currency != "" && !strings.EqualFold(capture.Currency, txn.Currency):
		return fmt.Sprintf("gateway currency %s, transaction currency is %s", capture.Currency, txn.Currency)
	case capture.TransactionNo != "" && capture.TransactionNo != txn.TransactionNo:
		return fmt.Sprintf("gateway intent belongs to transaction %s", capture.TransactionNo)
	}
	return ""
}

func (s *PaymentService) credit(ctx context.Context, txn *model.PaymentTransaction, capture *gateway.Capture) (*ConfirmResult, error) {
	var (
		entry      *model.LedgerEntry
		alarmCause string
	)

	confirmed := map[string]interface{}{}
	if capture.PaymentID != "" {
		confirmed["gateway_payment_id"] = capture.PaymentID
	}

	err := s.locker.WithLedgerLock(ctx, txn.UserID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			err := s.paymentRepo.UpdateState(ctx, tx, txn.TransactionNo,
				model.PaymentStateIntentCreated, model.PaymentStateGatewayConfirmed, confirmed)
			if err != nil {
				return err
			}

			existing, err := s.ledgerRepo.GetByTransactionNo(ctx, tx, txn.TransactionNo)
			if err != nil {
				return err
			}
			if existing != nil {
				alarmCause = fmt.Sprintf("ledger entry %s already exists for uncredited transaction", existing.EntryNo)
				return s.recordAlarm(ctx, tx, txn, model.PaymentStateGatewayConfirmed, alarmCause)
			}

			entry, err = s.ledger.credit(ctx, tx, txn.UserID, txn.Amount, txn.TransactionNo)
			if err != nil {
				return err
			}

			err = s.paymentRepo.UpdateState(ctx, tx, txn.TransactionNo,
				model.PaymentStateGatewayConfirmed, model.PaymentStateLedgerCredited, nil)
			if err != nil {
				return err
			}

			ev := txnEvent(model.EventLedgerCredited, txn, "")
			ev.State = model.PaymentStateLedgerCredited
			ev.Balance = &entry.ResultingBalance
			return writeOutbox(ctx, s.outboxRepo, tx, s.cfg.Kafka.Topic.WalletEvents, txn.TransactionNo, model.EventLedgerCredited, ev)
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateInvalid) {
			return nil, s.lostRace(ctx, txn.TransactionNo)
		}
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	if alarmCause != "" {
		txn.State = model.PaymentStateConfirmationError
		s.alarm(ctx, txn, alarmCause)
		return nil, newError(KindIntegrityAlarm, contactSupport, nil)
	}
	txn.State = model.PaymentStateLedgerCredited

	s.logger.InfoContext(ctx, "wallet credited",
		"transaction_no", txn.TransactionNo, "user_id", txn.UserID,
		"amount", txn.Amount.String(), "balance", entry.ResultingBalance.String())

	return &ConfirmResult{
		TransactionID: txn.TransactionNo,
		Status:        model.ClientStatusSucceeded,
		Amount:        txn.Amount,
		Balance:       entry.ResultingBalance,
	}, nil
}

// lostRace explains why the intent_created CAS matched no row.
func (s *PaymentService) lostRace(ctx context.Context, transactionNo string) error {
	current, err := s.paymentRepo.GetByTransactionNo(ctx, nil, transactionNo)
	if err != nil {
		return fmt.Errorf("reload transaction: %w", err)
	}
	if current.State == model.PaymentStateLedgerCredited {
		return newError(KindAlreadyProcessed, "payment already processed", nil)
	}
	return newError(KindConfirmationMismatch, "transaction is not awaiting confirmation", nil)
}

// confirmWithAlarm records a gateway success that cannot be matched to the
// transaction: intent_created -> gateway_confirmed -> confirmation_error,
// no ledger entry.
func (s *PaymentService) confirmWithAlarm(ctx context.Context, txn *model.PaymentTransaction, capture *gateway.Capture, cause string) error {
	err := s.locker.WithLedgerLock(ctx, txn.UserID, func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			fields := map[string]interface{}{}
			if capture.PaymentID != "" {
				fields["gateway_payment_id"] = capture.PaymentID
			}
			err := s.paymentRepo.UpdateState(ctx, tx, txn.TransactionNo,
				model.PaymentStateIntentCreated, model.PaymentStateGatewayConfirmed, fields)
			if err != nil {
				return err
			}
			return s.recordAlarm(ctx, tx, txn, model.PaymentStateGatewayConfirmed, cause)
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateInvalid) {
			return s.lostRace(ctx, txn.TransactionNo)
		}
		return fmt.Errorf("record confirmation error: %w", err)
	}
	txn.State = model.PaymentStateConfirmationError
	s.alarm(ctx, txn, cause)
	return newError(KindIntegrityAlarm, contactSupport, nil)
}

// recordAlarm moves txn from `from` to confirmation_error inside tx and
// stages the operator alarm. The caller updates txn.State once tx commits.
func (s *PaymentService) recordAlarm(ctx context.Context, tx *gorm.DB, txn *model.PaymentTransaction, from, cause string) error {
	err := s.paymentRepo.UpdateState(ctx, tx, txn.TransactionNo, from, model.PaymentStateConfirmationError,
		map[string]interface{}{"failure_reason": truncate(cause, 256)})
	if err != nil {
		return err
	}
	ev := txnEvent(model.EventIntegrityAlarm, txn, cause)
	ev.State = model.PaymentStateConfirmationError
	return writeOutbox(ctx, s.outboxRepo, tx, s.cfg.Kafka.Topic.IntegrityAlarms, txn.TransactionNo,
		model.EventIntegrityAlarm, ev)
}

// alarm logs an integrity alarm for operators.
func (s *PaymentService) alarm(ctx context.Context, txn *model.PaymentTransaction, cause string) {
	attrs := []any{"alarm", true, "cause", cause}
	if txn != nil {
		attrs = append(attrs, "transaction_no", txn.TransactionNo, "user_id", txn.UserID, "state", txn.State)
	}
	s.logger.ErrorContext(ctx, "payment integrity alarm", attrs...)
}

// alarmUnmatched reports a gateway success no transaction can absorb.
func (s *PaymentService) alarmUnmatched(ctx context.Context, capture *gateway.Capture, txn *model.PaymentTransaction, cause string) error {
	var ev walletEvent
	if txn != nil {
		ev = txnEvent(model.EventIntegrityAlarm, txn, cause)
	} else {
		amount := capture.Amount
		ev = walletEvent{
			EventType:     model.EventIntegrityAlarm,
			TransactionNo: capture.TransactionNo,
			Amount:        &amount,
			IntentID:      capture.IntentID,
			Reason:        cause,
			OccurredAt:    s.now().UTC(),
		}
	}
	key := capture.IntentID
	if err := writeOutbox(ctx, s.outboxRepo, nil, s.cfg.Kafka.Topic.IntegrityAlarms, key, model.EventIntegrityAlarm, ev); err != nil {
		return err
	}
	s.alarm(ctx, txn, cause)
	return nil
}

func (s *PaymentService) markFailed(ctx context.Context, txn *model.PaymentTransaction, from, reason string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := s.paymentRepo.UpdateState(ctx, tx, txn.TransactionNo, from, model.PaymentStateFailed,
			map[string]interface{}{"failure_reason": truncate(reason, 256)})
		if err != nil {
			return err
		}
		ev := txnEvent(model.EventPaymentFailed, txn, reason)
		ev.State = model.PaymentStateFailed
		return writeOutbox(ctx, s.outboxRepo, tx, s.cfg.Kafka.Topic.WalletEvents, txn.TransactionNo,
			model.EventPaymentFailed, ev)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateInvalid) {
			return s.lostRace(ctx, txn.TransactionNo)
		}
		return fmt.Errorf("mark transaction failed: %w", err)
	}
	txn.State = model.PaymentStateFailed
	s.logger.InfoContext(ctx, "payment failed", "transaction_no", txn.TransactionNo, "reason", reason)
	return nil
}

// HandleWebhook applies a signed gateway notification. It is the
// authoritative confirmation path; the client confirm only gets there first.
// Returned errors make the gateway redeliver, so outcomes already recorded
// (duplicates, alarms) are acknowledged with nil.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return newError(KindInvalidInput, "invalid webhook signature", err)
	}

	switch ev.Type {
	case gateway.EventIntentSucceeded, gateway.EventIntentFailed, gateway.EventIntentCanceled:
	default:
		s.logger.DebugContext(ctx, "ignoring webhook event", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	capture := ev.Capture
	txn, err := s.findByCapture(ctx, &capture)
	if err != nil {
		return err
	}

	if ev.Type != gateway.EventIntentSucceeded {
		if txn == nil || txn.State != model.PaymentStateIntentCreated {
			return nil
		}
		if capture.Status == gateway.StatusPending {
			// A declined attempt; the payer may still retry on the same intent.
			s.logger.InfoContext(ctx, "payment attempt declined", "transaction_no", txn.TransactionNo, "reason", capture.FailureReason)
			return nil
		}
		return ignoreSettled(s.markFailed(ctx, txn, model.PaymentStateIntentCreated, "payment "+capture.Status))
	}

	if txn == nil {
		return s.alarmUnmatched(ctx, &capture, nil, "gateway reports success for unknown transaction")
	}
	switch txn.State {
	case model.PaymentStateIntentCreated:
		capture.Status = gateway.StatusSucceeded
		_, err := s.settle(ctx, txn, &capture)
		return ignoreSettled(err)
	case model.PaymentStateLedgerCredited:
		return nil
	case model.PaymentStateCreated:
		cause := "gateway reports success for transaction without a recorded intent"
		err := s.db.Transaction(func(tx *gorm.DB) error {
			return s.recordAlarm(ctx, tx, txn, model.PaymentStateCreated, cause)
		})
		if err != nil && !errors.Is(err, repository.ErrStateInvalid) {
			return err
		}
		if err == nil {
			txn.State = model.PaymentStateConfirmationError
		}
		s.alarm(ctx, txn, cause)
		return nil
	case model.PaymentStateConfirmationError:
		return nil
	default:
		return s.alarmUnmatched(ctx, &capture, txn, fmt.Sprintf("gateway reports success for %s transaction", txn.State))
	}
}

// ignoreSettled drops errors that mean the outcome is already recorded.
func ignoreSettled(err error) error {
	switch KindOf(err) {
	case KindAlreadyProcessed, KindIntegrityAlarm, KindConfirmationMismatch, KindGatewayError:
		return nil
	}
	return err
}

func (s *PaymentService) findByCapture(ctx context.Context, capture *gateway.Capture) (*model.PaymentTransaction, error) {
	txn, err := s.paymentRepo.GetByIntentID(ctx, capture.IntentID)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, err
	}
	if capture.TransactionNo == "" {
		return nil, nil
	}
	txn, err = s.paymentRepo.GetByTransactionNo(ctx, nil, capture.TransactionNo)
	if errors.Is(err, repository.ErrTransactionNotFound) {
		return nil, nil
	}
	return txn, err
}

// ReconcileReport counts what one sweep did.
type ReconcileReport struct {
	Checked  int
	Credited int
	Failed   int
	Expired  int
	Alarms   int
}

// Reconcile asks the gateway about intents that have waited longer than
// olderThan for a confirmation. Captured payments are credited, failed ones
// are closed, and intents still open past the funding intent timeout are
// cancelled at the gateway and failed.
func (s *PaymentService) Reconcile(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error) {
	var report ReconcileReport

	txns, err := s.paymentRepo.GetStale(ctx, model.PaymentStateIntentCreated, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return report, fmt.Errorf("load stale intents: %w", err)
	}

	for _, txn := range txns {
		report.Checked++
		s.reconcileOne(ctx, txn, &report)
	}
	return report, nil
}

func (s *PaymentService) reconcileOne(ctx context.Context, txn *model.PaymentTransaction, report *ReconcileReport) {
	logger := s.logger.With("transaction_no", txn.TransactionNo, "intent_id", txn.IntentID())

	capture, err := s.gateway.CaptureConfirmation(ctx, txn.IntentID(), "")
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			if err := s.markFailed(ctx, txn, model.PaymentStateIntentCreated, "intent unknown to gateway"); err == nil {
				report.Failed++
			}
			return
		}
		logger.WarnContext(ctx, "reconcile: gateway lookup failed", "error", err)
		return
	}

	if s.applyCapture(ctx, logger, txn, capture, report) {
		return
	}
	if s.now().Sub(txn.CreatedAt) < s.cfg.Funding.IntentTimeout() {
		return
	}

	err = s.gateway.CancelIntent(ctx, txn.IntentID())
	if err == nil {
		if err := s.markFailed(ctx, txn, model.PaymentStateIntentCreated, "intent expired"); err == nil {
			report.Expired++
		}
		return
	}
	if !errors.Is(err, gateway.ErrRejected) {
		logger.WarnContext(ctx, "reconcile: cancel intent failed", "error", err)
		return
	}

	// The gateway refuses to cancel an intent that moved on since the
	// lookup, typically one the payer just completed.
	capture, err = s.gateway.CaptureConfirmation(ctx, txn.IntentID(), "")
	if err != nil {
		logger.WarnContext(ctx, "reconcile: gateway lookup after refused cancel failed", "error", err)
		return
	}
	if !s.applyCapture(ctx, logger, txn, capture, report) {
		logger.WarnContext(ctx, "reconcile: gateway refused to cancel an open intent", "status", capture.Status)
	}
}

// applyCapture settles txn when the gateway has a final verdict and reports
// whether it had one.
func (s *PaymentService) applyCapture(ctx context.Context, logger *slog.Logger, txn *model.PaymentTransaction, capture *gateway.Capture, report *ReconcileReport) bool {
	switch capture.Status {
	case gateway.StatusSucceeded:
		_, err := s.settle(ctx, txn, capture)
		switch {
		case err == nil:
			report.Credited++
			logger.InfoContext(ctx, "reconcile: credited confirmed payment")
		case IsKind(err, KindIntegrityAlarm):
			report.Alarms++
		case IsKind(err, KindAlreadyProcessed):
		default:
			logger.WarnContext(ctx, "reconcile: credit failed", "error", err)
		}
		return true
	case gateway.StatusFailed, gateway.StatusCanceled:
		if err := s.markFailed(ctx, txn, model.PaymentStateIntentCreated, "payment "+capture.Status); err == nil {
			report.Failed++
		}
		return true
	}
	return false
}

// ExpireCreated fails transactions stuck in created, where the gateway never
// answered the open intent call.
func (s *PaymentService) ExpireCreated(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	txns, err := s.paymentRepo.GetStale(ctx, model.PaymentStateCreated, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("load stale transactions: %w", err)
	}

	expired := 0
	for _, txn := range txns {
		if err := s.markFailed(ctx, txn, model.PaymentStateCreated, "gateway did not open an intent"); err != nil {
			s.logger.WarnContext(ctx, "expire transaction", "transaction_no", txn.TransactionNo, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// TransactionView is what a payer may see of a transaction.
type TransactionView struct {
	TransactionID string          `json:"transactionId"`
	UserID        int64           `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CreditedAt    *time.Time      `json:"creditedAt,omitempty"`
}

func newTransactionView(t *model.PaymentTransaction) TransactionView {
	v := TransactionView{
		TransactionID: t.TransactionNo,
		UserID:        t.UserID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		PaymentMethod: t.PaymentMethod,
		Status:        model.ClientStatus(t.State),
		CreatedAt:     t.CreatedAt,
		CreditedAt:    t.CreditedAt,
	}
	switch t.State {
	case model.PaymentStateConfirmationError:
		v.Message = contactSupport
	case model.PaymentStateFailed:
		v.Message = "payment failed"
	}
	return v
}

func (s *PaymentService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]TransactionView, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	txns, total, err := s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	views := make([]TransactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, newTransactionView(t))
	}
	return views, total, nil
}

// AddFundsResumer is the gate resumer for add_funds: it decodes the parked
// request and opens the intent on the principal's behalf.
func (s *PaymentService) AddFundsResumer() Resumer {
	return func(ctx context.Context, p model.Principal, action *model.PendingAction, _ string) (interface{}, error) {
		var req CreateIntentRequest
		if err := json.Unmarshal(action.Payload, &req); err != nil {
			return nil, newError(KindInvalidInput, "invalid add_funds payload", err)
		}
		if !p.CanActFor(req.UserID) {
			return nil, newError(KindForbidden, "cannot fund another user's wallet", nil)
		}
		req.RequestedBy = p.ID
		return s.CreateIntent(ctx, &req)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
