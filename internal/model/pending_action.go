package model

import (
	"encoding/json"
	"time"
)

const (
	OperationAddFunds   = "add_funds"
	OperationActivation = "activation"
	OperationSimSwap    = "sim_swap"
	OperationRecharge   = "recharge"
)

// PendingAction is a guarded operation parked until the session's employee
// verification succeeds. It is plain data so it can be stored and inspected.
type PendingAction struct {
	OperationType    string          `json:"operation_type"`
	OperationDetails string          `json:"operation_details,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	RequestedBy      int64           `json:"requested_by"`
	RequestedAt      time.Time       `json:"requested_at"`
}

// VerificationSession is the per-client-session verification state.
type VerificationSession struct {
	SessionID          string         `json:"session_id"`
	VerifiedEmployeeID string         `json:"verified_employee_id,omitempty"`
	PendingAction      *PendingAction `json:"pending_action,omitempty"`
}

func (s VerificationSession) Verified() bool {
	return s.VerifiedEmployeeID != ""
}
