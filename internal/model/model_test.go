package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(PaymentStateCreated, PaymentStateIntentCreated))
	assert.True(t, CanTransitionTo(PaymentStateIntentCreated, PaymentStateGatewayConfirmed))
	assert.True(t, CanTransitionTo(PaymentStateGatewayConfirmed, PaymentStateLedgerCredited))
	assert.True(t, CanTransitionTo(PaymentStateGatewayConfirmed, PaymentStateConfirmationError))

	assert.False(t, CanTransitionTo(PaymentStateCreated, PaymentStateLedgerCredited))
	assert.False(t, CanTransitionTo(PaymentStateIntentCreated, PaymentStateLedgerCredited))
	assert.False(t, CanTransitionTo(PaymentStateLedgerCredited, PaymentStateGatewayConfirmed))
	assert.False(t, CanTransitionTo(PaymentStateFailed, PaymentStateIntentCreated))
}

func TestIsTerminalState(t *testing.T) {
	for _, s := range []string{PaymentStateLedgerCredited, PaymentStateFailed, PaymentStateConfirmationError} {
		assert.True(t, IsTerminalState(s), s)
	}
	for _, s := range InFlightStates {
		assert.False(t, IsTerminalState(s), s)
	}
}

func TestClientStatus(t *testing.T) {
	assert.Equal(t, ClientStatusPending, ClientStatus(PaymentStateCreated))
	assert.Equal(t, ClientStatusPending, ClientStatus(PaymentStateIntentCreated))
	assert.Equal(t, ClientStatusPending, ClientStatus(PaymentStateGatewayConfirmed))
	assert.Equal(t, ClientStatusSucceeded, ClientStatus(PaymentStateLedgerCredited))
	assert.Equal(t, ClientStatusFailed, ClientStatus(PaymentStateFailed))
	assert.Equal(t, ClientStatusFailed, ClientStatus(PaymentStateConfirmationError))
}

func TestNewPrincipal_Exemption(t *testing.T) {
	cases := []struct {
		name   string
		user   User
		exempt bool
	}{
		{"plain employee", User{ID: 1, Username: "jdoe", Role: RoleEmployee}, false},
		{"admin username", User{ID: 2, Username: "admin", Role: RoleEmployee}, true},
		{"admin sub-role", User{ID: 3, Username: "lead", Role: RoleEmployee, EmployeeSubRole: AdminSubRole}, true},
		{"retailer named admin", User{ID: 4, Username: "admin", Role: RoleRetailer}, false},
		{"cashier sub-role", User{ID: 5, Username: "kim", Role: RoleEmployee, EmployeeSubRole: "cashier"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPrincipal(&tc.user, "sid")
			assert.Equal(t, tc.exempt, p.ExemptFromVerification)
			assert.Equal(t, "sid", p.SessionID)
		})
	}
}

func TestPrincipal_CanActFor(t *testing.T) {
	assert.True(t, Principal{ID: 9, Role: RoleRetailer}.CanActFor(9))
	assert.False(t, Principal{ID: 9, Role: RoleRetailer}.CanActFor(10))
	assert.True(t, Principal{ID: 1, Role: RoleEmployee}.CanActFor(10))
	assert.True(t, Principal{ID: 1, Role: RoleAdmin}.CanActFor(10))
}
