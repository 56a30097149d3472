package service

import (
	"errors"
	"fmt"
)

// Kind classifies service failures. Handlers map kinds to HTTP statuses.
type Kind string

const (
	KindVerificationFailed   Kind = "verification_failed"
	KindPermissionDenied     Kind = "permission_denied"
	KindLimitExceeded        Kind = "limit_exceeded"
	KindGatewayError         Kind = "gateway_error"
	KindConfirmationMismatch Kind = "confirmation_mismatch"
	KindIntegrityAlarm       Kind = "integrity_alarm"
	KindAlreadyProcessed     Kind = "already_processed"
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindConflict             Kind = "conflict"
	KindUnauthenticated      Kind = "unauthenticated"
	KindInternal             Kind = "internal"
)

// Error is a classified service failure. Message is safe to show callers;
// Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
