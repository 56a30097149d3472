package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"resellerpay/internal/infrastructure/gateway"

	"github.com/shopspring/decimal"
)

// ValidSignature is the only webhook signature FakeGateway accepts.
const ValidSignature = "t=1,v1=valid"

type fakeIntent struct {
	req       gateway.IntentRequest
	status    string
	paymentID string
	amount    decimal.Decimal
	reason    string
}

// FakeGateway is an in-memory payment processor. Intents open as pending and
// move only when the test calls Succeed, Fail or Cancel.
type FakeGateway struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*fakeIntent

	OpenErr    error
	CaptureErr error

	OpenCalls    int
	CaptureCalls int
	Canceled     []string

	// BeforeCancel runs at the start of CancelIntent, outside the lock, so a
	// test can move the intent between a lookup and the cancel.
	BeforeCancel func(intentID string)
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{intents: make(map[string]*fakeIntent)}
}

func (g *FakeGateway) OpenIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.OpenCalls++
	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	g.intents[id] = &fakeIntent{req: req, status: gateway.StatusPending, amount: req.Amount}
	return &gateway.Intent{ID: id, ClientSecret: id + "_secret", Status: gateway.StatusPending}, nil
}

func (g *FakeGateway) CaptureConfirmation(_ context.Context, intentID, paymentID string) (*gateway.Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CaptureCalls++
	if g.CaptureErr != nil {
		return nil, g.CaptureErr
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", gateway.ErrRejected, intentID)
	}
	if paymentID != "" && paymentID != intentID && paymentID != in.paymentID {
		return nil, fmt.Errorf("%w: payment %s does not belong to intent %s", gateway.ErrRejected, paymentID, intentID)
	}
	return g.capture(intentID, in), nil
}

// CancelIntent refuses intents that already succeeded, like the real
// processor does.
func (g *FakeGateway) CancelIntent(_ context.Context, intentID string) error {
	if g.BeforeCancel != nil {
		g.BeforeCancel(intentID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	in, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("%w: no such intent %s", gateway.ErrRejected, intentID)
	}
	if in.status == gateway.StatusSucceeded {
		return fmt.Errorf("%w: intent %s already succeeded", gateway.ErrRejected, intentID)
	}
	in.status = gateway.StatusCanceled
	g.Canceled = append(g.Canceled, intentID)
	return nil
}

// ParseWebhook accepts a JSON-encoded gateway.Event signed with ValidSignature.
func (g *FakeGateway) ParseWebhook(payload []byte, signature string) (*gateway.Event, error) {
	if signature != ValidSignature {
		return nil, fmt.Errorf("%w: bad signature", gateway.ErrRejected)
	}
	var ev gateway.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.New("decode event")
	}
	return &ev, nil
}

// Succeed marks the intent paid by paymentID and returns its capture.
func (g *FakeGateway) Succeed(intentID, paymentID string) gateway.Capture {
	g.mu.Lock()
	defer g.mu.Unlock()

	in := g.intents[intentID]
	in.status = gateway.StatusSucceeded
	in.paymentID = paymentID
	return *g.capture(intentID, in)
}

func (g *FakeGateway) Fail(intentID, reason string) gateway.Capture {
	g.mu.Lock()
	defer g.mu.Unlock()

	in := g.intents[intentID]
	in.status = gateway.StatusFailed
	in.reason = reason
	return *g.capture(intentID, in)
}

// OverrideAmount makes the gateway report a captured amount that differs
// from the one requested.
func (g *FakeGateway) OverrideAmount(intentID string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intentID].amount = amount
}

func (g *FakeGateway) Status(intentID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		return in.status
	}
	return ""
}

func (g *FakeGateway) capture(intentID string, in *fakeIntent) *gateway.Capture {
	return &gateway.Capture{
		IntentID:      intentID,
		PaymentID:     in.paymentID,
		Status:        in.status,
		Amount:        in.amount,
		Currency:      in.req.Currency,
		TransactionNo: in.req.TransactionNo,
		FailureReason: in.reason,
	}
}
