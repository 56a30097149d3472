package service

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"resellerpay/internal/infrastructure/gateway"
	"resellerpay/internal/model"
	"resellerpay/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent_Validation(t *testing.T) {
	h := newHarness(t)
	h.grant(20, "", "")

	cases := []struct {
		name   string
		amount string
		method string
	}{
		{"below minimum", "4.99", "credit_card"},
		{"above maximum", "5000.01", "credit_card"},
		{"sub-cent", "10.001", "credit_card"},
		{"unknown method", "10", "bitcoin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 20, Amount: dec(tc.amount), PaymentMethod: tc.method})
			assert.True(t, IsKind(err, KindInvalidInput), "%v", err)
		})
	}
	assert.Zero(t, h.countTxns(20))
	assert.Zero(t, h.gw.OpenCalls)
}

func TestCreateIntent_DeniedCreatesNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 21, Amount: dec("50"), PaymentMethod: "credit_card"})
	assert.True(t, IsKind(err, KindPermissionDenied), "%v", err)
	assert.Zero(t, h.countTxns(21))
	assert.Zero(t, h.gw.OpenCalls)

	h.grant(21, "100", "")
	h.addLedgerEntry(21, "80", time.Now().Add(-time.Hour))
	_, err = h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 21, Amount: dec("30"), PaymentMethod: "credit_card"})
	assert.True(t, IsKind(err, KindLimitExceeded), "%v", err)
	assert.Zero(t, h.countTxns(21))
}

func TestCreateIntent_Success(t *testing.T) {
	h := newHarness(t)
	h.grant(22, "", "")

	res, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 22, Amount: dec("50"), PaymentMethod: "credit_card", RequestedBy: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientSecret)
	assert.Equal(t, model.ClientStatusPending, res.Status)

	txn := h.txn(res.TransactionID)
	assert.Equal(t, model.PaymentStateIntentCreated, txn.State)
	assert.NotEmpty(t, txn.IntentID())
	assert.EqualValues(t, 5, txn.RequestedBy)
	assert.Equal(t, "usd", txn.Currency)
	assert.True(t, dec("50").Equal(txn.Amount))
}

func TestCreateIntent_GatewayFailures(t *testing.T) {
	h := newHarness(t)
	h.grant(23, "", "")

	h.gw.OpenErr = errors.New("connection reset")
	_, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 23, Amount: dec("10"), PaymentMethod: "credit_card"})
	assert.True(t, IsKind(err, KindGatewayError))

	h.gw.OpenErr = gateway.ErrRejected
	_, err = h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 23, Amount: dec("10"), PaymentMethod: "credit_card"})
	assert.True(t, IsKind(err, KindGatewayError))

	var txns []*model.PaymentTransaction
	require.NoError(t, h.db.Where("user_id = ?", 23).Order("id").Find(&txns).Error)
	require.Len(t, txns, 2)
	assert.Equal(t, model.PaymentStateCreated, txns[0].State, "transient failure keeps the last good state")
	assert.Equal(t, model.PaymentStateFailed, txns[1].State, "rejection fails the attempt")
	assert.Len(t, h.outbox(model.EventPaymentFailed), 1)
}

func TestConfirmPayment_CreditsOnce(t *testing.T) {
	h := newHarness(t)
	h.grant(24, "", "")
	no, intentID := h.openIntent(24, "50")
	h.gw.Succeed(intentID, "ch_24")

	res, err := h.payments.ConfirmPayment(h.ctx, no, intentID)
	require.NoError(t, err)
	assert.Equal(t, model.ClientStatusSucceeded, res.Status)
	assert.True(t, dec("50").Equal(res.Balance))

	txn := h.txn(no)
	assert.Equal(t, model.PaymentStateLedgerCredited, txn.State)
	require.NotNil(t, txn.GatewayPaymentID)
	assert.Equal(t, "ch_24", *txn.GatewayPaymentID)

	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindAlreadyProcessed), "%v", err)

	entries := h.ledgerEntries(24)
	require.Len(t, entries, 1)
	assert.True(t, dec("50").Equal(entries[0].ResultingBalance))
	assert.True(t, dec("50").Equal(h.balance(24)))

	events := h.outbox(model.EventLedgerCredited)
	require.Len(t, events, 1)
	assert.Equal(t, h.cfg.Kafka.Topic.WalletEvents, events[0].Topic)
	assert.Equal(t, no, events[0].MessageKey)
}

func TestConfirmPayment_Mismatches(t *testing.T) {
	h := newHarness(t)
	h.grant(25, "", "")

	_, err := h.payments.ConfirmPayment(h.ctx, "FND-missing", "pi_x")
	assert.True(t, IsKind(err, KindConfirmationMismatch))

	no, intentID := h.openIntent(25, "20")
	_, err = h.payments.ConfirmPayment(h.ctx, no, "pi_someone_else")
	assert.True(t, IsKind(err, KindConfirmationMismatch))

	// Not paid yet: retryable, state untouched.
	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindGatewayError))
	assert.Equal(t, model.PaymentStateIntentCreated, h.txn(no).State)

	h.gw.CaptureErr = errors.New("timeout")
	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindGatewayError))
	assert.Equal(t, model.PaymentStateIntentCreated, h.txn(no).State)
	h.gw.CaptureErr = nil

	h.gw.Fail(intentID, "card declined")
	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindGatewayError))
	assert.Equal(t, model.PaymentStateFailed, h.txn(no).State)

	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindConfirmationMismatch))

	assert.Empty(t, h.ledgerEntries(25))
	assert.True(t, h.balance(25).IsZero())
}

func TestConfirmPayment_AmountMismatchRaisesAlarm(t *testing.T) {
	h := newHarness(t)
	h.grant(26, "", "")
	no, intentID := h.openIntent(26, "50")
	h.gw.Succeed(intentID, "ch_26")
	h.gw.OverrideAmount(intentID, dec("5"))

	_, err := h.payments.ConfirmPayment(h.ctx, no, intentID)
	require.True(t, IsKind(err, KindIntegrityAlarm), "%v", err)
	assert.Equal(t, contactSupport, MessageOf(err))

	assert.Equal(t, model.PaymentStateConfirmationError, h.txn(no).State)
	assert.Empty(t, h.ledgerEntries(26))
	alarms := h.outbox(model.EventIntegrityAlarm)
	require.Len(t, alarms, 1)
	assert.Equal(t, h.cfg.Kafka.Topic.IntegrityAlarms, alarms[0].Topic)

	views, _, err := h.payments.ListTransactions(h.ctx, 26, 1, 10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, model.ClientStatusFailed, views[0].Status)
	assert.Equal(t, contactSupport, views[0].Message)
}

func TestConfirmPayment_ExistingLedgerEntryRaisesAlarm(t *testing.T) {
	h := newHarness(t)
	h.grant(27, "", "")
	no, intentID := h.openIntent(27, "40")
	h.gw.Succeed(intentID, "ch_27")

	require.NoError(t, h.db.Create(&model.LedgerEntry{
		EntryNo: "LED-stray", TransactionNo: no, UserID: 27,
		Amount: dec("40"), BalanceBefore: dec("0"), ResultingBalance: dec("40"), CreatedAt: time.Now().UTC(),
	}).Error)

	_, err := h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindIntegrityAlarm), "%v", err)
	assert.Equal(t, model.PaymentStateConfirmationError, h.txn(no).State)
	assert.Len(t, h.ledgerEntries(27), 1)
	assert.True(t, h.balance(27).IsZero())
}

func TestConfirmPayment_ConcurrentCallsCreditOnce(t *testing.T) {
	h := newHarness(t)
	h.grant(28, "", "")
	no, intentID := h.openIntent(28, "50")
	h.gw.Succeed(intentID, "ch_28")

	const callers = 6
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.payments.ConfirmPayment(h.ctx, no, intentID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, IsKind(err, KindAlreadyProcessed), "%v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, h.ledgerEntries(28), 1)
	assert.True(t, dec("50").Equal(h.balance(28)))
}

func TestBalanceEqualsSumOfCredits(t *testing.T) {
	h := newHarness(t)
	h.grant(29, "", "")

	for _, amt := range []string{"10", "25.50", "7.25"} {
		no, intentID := h.openIntent(29, amt)
		h.gw.Succeed(intentID, "ch_"+no)
		_, err := h.payments.ConfirmPayment(h.ctx, no, intentID)
		require.NoError(t, err)
	}

	sum := dec("0")
	for _, e := range h.ledgerEntries(29) {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, dec("42.75").Equal(sum))
	assert.True(t, sum.Equal(h.balance(29)))

	entries, total, err := h.ledger.ListEntries(h.ctx, 29, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.True(t, dec("42.75").Equal(entries[0].ResultingBalance), "newest first")
}

func webhookBody(t *testing.T, ev gateway.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestHandleWebhook(t *testing.T) {
	h := newHarness(t)
	h.grant(30, "", "")
	no, intentID := h.openIntent(30, "50")
	capture := h.gw.Succeed(intentID, "ch_30")
	body := webhookBody(t, gateway.Event{ID: "evt_1", Type: gateway.EventIntentSucceeded, Capture: capture})

	err := h.payments.HandleWebhook(h.ctx, body, "bad")
	assert.True(t, IsKind(err, KindInvalidInput))

	require.NoError(t, h.payments.HandleWebhook(h.ctx, body, testutil.ValidSignature))
	assert.Equal(t, model.PaymentStateLedgerCredited, h.txn(no).State)

	// Redelivery and a late client confirm are both no-ops.
	require.NoError(t, h.payments.HandleWebhook(h.ctx, body, testutil.ValidSignature))
	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindAlreadyProcessed))
	assert.Len(t, h.ledgerEntries(30), 1)

	ignored := webhookBody(t, gateway.Event{ID: "evt_2", Type: "charge.refunded"})
	require.NoError(t, h.payments.HandleWebhook(h.ctx, ignored, testutil.ValidSignature))
}

func TestHandleWebhook_CanceledAndUnknown(t *testing.T) {
	h := newHarness(t)
	h.grant(31, "", "")
	no, intentID := h.openIntent(31, "15")

	canceled := gateway.Capture{IntentID: intentID, Status: gateway.StatusCanceled, Amount: dec("15"), TransactionNo: no}
	require.NoError(t, h.payments.HandleWebhook(h.ctx,
		webhookBody(t, gateway.Event{ID: "evt_c", Type: gateway.EventIntentCanceled, Capture: canceled}), testutil.ValidSignature))
	assert.Equal(t, model.PaymentStateFailed, h.txn(no).State)

	// Success for a failed transaction never credits.
	succeeded := canceled
	succeeded.Status = gateway.StatusSucceeded
	require.NoError(t, h.payments.HandleWebhook(h.ctx,
		webhookBody(t, gateway.Event{ID: "evt_s", Type: gateway.EventIntentSucceeded, Capture: succeeded}), testutil.ValidSignature))
	assert.Equal(t, model.PaymentStateFailed, h.txn(no).State)
	assert.Empty(t, h.ledgerEntries(31))

	unknown := gateway.Capture{IntentID: "pi_ghost", Status: gateway.StatusSucceeded, Amount: dec("99")}
	require.NoError(t, h.payments.HandleWebhook(h.ctx,
		webhookBody(t, gateway.Event{ID: "evt_u", Type: gateway.EventIntentSucceeded, Capture: unknown}), testutil.ValidSignature))

	assert.Len(t, h.outbox(model.EventIntegrityAlarm), 2)
}

func TestHandleWebhook_SuccessForCreatedTransaction(t *testing.T) {
	h := newHarness(t)
	h.grant(32, "", "")
	h.gw.OpenErr = errors.New("timeout")
	_, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 32, Amount: dec("25"), PaymentMethod: "credit_card"})
	require.Error(t, err)

	var txn model.PaymentTransaction
	require.NoError(t, h.db.Where("user_id = ?", 32).First(&txn).Error)
	require.Equal(t, model.PaymentStateCreated, txn.State)

	capture := gateway.Capture{IntentID: "pi_lost", Status: gateway.StatusSucceeded, Amount: dec("25"), TransactionNo: txn.TransactionNo}
	require.NoError(t, h.payments.HandleWebhook(h.ctx,
		webhookBody(t, gateway.Event{ID: "evt_l", Type: gateway.EventIntentSucceeded, Capture: capture}), testutil.ValidSignature))

	assert.Equal(t, model.PaymentStateConfirmationError, h.txn(txn.TransactionNo).State)
	assert.Empty(t, h.ledgerEntries(32))
	assert.Len(t, h.outbox(model.EventIntegrityAlarm), 1)
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	h.grant(33, "", "")

	paidNo, paidIntent := h.openIntent(33, "10")
	h.gw.Succeed(paidIntent, "ch_paid")
	failedNo, failedIntent := h.openIntent(33, "11")
	h.gw.Fail(failedIntent, "declined")
	openNo, openIntent := h.openIntent(33, "12")
	freshNo, _ := h.openIntent(33, "13")

	h.backdate(paidNo, 10*time.Minute)
	h.backdate(failedNo, 10*time.Minute)
	h.backdate(openNo, 2*time.Hour)

	report, err := h.payments.Reconcile(h.ctx, 5*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 3, Credited: 1, Failed: 1, Expired: 1}, report)

	assert.Equal(t, model.PaymentStateLedgerCredited, h.txn(paidNo).State)
	assert.Equal(t, model.PaymentStateFailed, h.txn(failedNo).State)
	assert.Equal(t, model.PaymentStateFailed, h.txn(openNo).State)
	assert.Equal(t, model.PaymentStateIntentCreated, h.txn(freshNo).State)
	assert.Equal(t, []string{openIntent}, h.gw.Canceled)
	assert.True(t, dec("10").Equal(h.balance(33)))
}

func TestExpireCreated(t *testing.T) {
	h := newHarness(t)
	h.grant(34, "", "")
	h.gw.OpenErr = errors.New("timeout")
	_, err := h.payments.CreateIntent(h.ctx, &CreateIntentRequest{UserID: 34, Amount: dec("25"), PaymentMethod: "credit_card"})
	require.Error(t, err)

	var txn model.PaymentTransaction
	require.NoError(t, h.db.Where("user_id = ?", 34).First(&txn).Error)

	n, err := h.payments.ExpireCreated(h.ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.backdate(txn.TransactionNo, 2*time.Hour)
	n, err = h.payments.ExpireCreated(h.ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.PaymentStateFailed, h.txn(txn.TransactionNo).State)
}

func TestConfirmPayment_FailedTransactionCapturedLater(t *testing.T) {
	h := newHarness(t)
	h.grant(35, "", "")
	no, intentID := h.openIntent(35, "30")

	h.gw.Fail(intentID, "card declined")
	_, err := h.payments.ConfirmPayment(h.ctx, no, intentID)
	require.True(t, IsKind(err, KindGatewayError), "%v", err)
	require.Equal(t, model.PaymentStateFailed, h.txn(no).State)
	assert.Empty(t, h.outbox(model.EventIntegrityAlarm))

	h.gw.Succeed(intentID, intentID)
	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindIntegrityAlarm), "%v", err)
	assert.Equal(t, contactSupport, MessageOf(err))

	assert.Equal(t, model.PaymentStateFailed, h.txn(no).State)
	assert.Empty(t, h.ledgerEntries(35))
	assert.True(t, h.balance(35).IsZero())
	alarms := h.outbox(model.EventIntegrityAlarm)
	require.Len(t, alarms, 1)
	assert.Equal(t, h.cfg.Kafka.Topic.IntegrityAlarms, alarms[0].Topic)
}

func TestConfirmPaymentAs_ChecksWalletOwner(t *testing.T) {
	h := newHarness(t)
	owner := h.createUser("shop36", model.RoleRetailer, "", "")
	stranger := h.createUser("shop37", model.RoleRetailer, "", "")
	h.grant(owner.ID, "", "")
	no, intentID := h.openIntent(owner.ID, "40")
	h.gw.Succeed(intentID, intentID)

	_, err := h.payments.ConfirmPaymentAs(h.ctx, model.NewPrincipal(stranger, "s-37"), no, intentID)
	assert.True(t, IsKind(err, KindForbidden), "%v", err)
	assert.Equal(t, model.PaymentStateIntentCreated, h.txn(no).State)
	assert.True(t, h.balance(owner.ID).IsZero())

	res, err := h.payments.ConfirmPaymentAs(h.ctx, model.NewPrincipal(owner, "s-36"), no, intentID)
	require.NoError(t, err)
	assert.True(t, dec("40").Equal(res.Balance))
}

func TestCredit_RollbackLeavesTransactionUntouched(t *testing.T) {
	h := newHarness(t)
	h.grant(38, "", "")
	no, intentID := h.openIntent(38, "60")
	capture := h.gw.Succeed(intentID, "ch_38")

	require.NoError(t, h.db.Migrator().DropTable(&model.OutboxMessage{}))
	txn := h.txn(no)
	_, err := h.payments.credit(h.ctx, txn, &capture)
	require.Error(t, err)

	assert.Equal(t, model.PaymentStateIntentCreated, txn.State)
	assert.Equal(t, model.PaymentStateIntentCreated, h.txn(no).State)
	assert.Empty(t, h.ledgerEntries(38))
	assert.True(t, h.balance(38).IsZero())

	require.NoError(t, h.db.AutoMigrate(&model.OutboxMessage{}))
	res, err := h.payments.ConfirmPayment(h.ctx, no, intentID)
	require.NoError(t, err)
	assert.True(t, dec("60").Equal(res.Balance))
	assert.Equal(t, model.PaymentStateLedgerCredited, h.txn(no).State)
}

func TestReconcile_PaidWhileExpiring(t *testing.T) {
	h := newHarness(t)
	h.grant(39, "", "")
	no, intentID := h.openIntent(39, "70")
	h.backdate(no, 2*time.Hour)

	// The payer completes the intent between the sweep's lookup and its
	// cancel, so the gateway refuses the cancel.
	h.gw.BeforeCancel = func(id string) { h.gw.Succeed(id, "ch_late") }

	report, err := h.payments.Reconcile(h.ctx, 5*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Credited: 1}, report)

	assert.Empty(t, h.gw.Canceled)
	assert.Equal(t, gateway.StatusSucceeded, h.gw.Status(intentID))
	assert.Equal(t, model.PaymentStateLedgerCredited, h.txn(no).State)
	assert.True(t, dec("70").Equal(h.balance(39)))
	require.Len(t, h.ledgerEntries(39), 1)
	assert.Empty(t, h.outbox(model.EventPaymentFailed))

	_, err = h.payments.ConfirmPayment(h.ctx, no, intentID)
	assert.True(t, IsKind(err, KindAlreadyProcessed), "%v", err)
}
