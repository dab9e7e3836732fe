// Package errors provides the typed error taxonomy shared by the ledger core.
package errors

import (
	"errors"
	"fmt"
)

// Class groups errors by how a caller is expected to react.
type Class string

const (
	// ClassValidation errors are rejected before any mutation; the caller fixes input.
	ClassValidation Class = "validation"
	// ClassConflict errors are rejected atomically; the caller re-fetches state.
	ClassConflict Class = "conflict"
	// ClassNotFound errors reference an entity that does not exist.
	ClassNotFound Class = "not_found"
	// ClassForbidden errors are raised when the caller may not act on an entity.
	ClassForbidden Class = "forbidden"
	// ClassInfrastructure errors come from the datastore or broker; retry with backoff.
	ClassInfrastructure Class = "infrastructure"
)

// Error carries a stable code and message that are safe to show to callers.
type Error struct {
	Code    string
	Class   Class
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on code so that wrapped infrastructure errors compare equal to ErrInfrastructure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(class Class, code, message string) *Error {
	return &Error{Code: code, Class: class, Message: message}
}

// Validation errors
var (
	ErrInvalidAmount        = newError(ClassValidation, "INVALID_AMOUNT", "amount must be positive and within the per-transaction limit")
	ErrSelfTransferRejected = newError(ClassValidation, "SELF_TRANSFER_REJECTED", "sender and recipient must differ")
	ErrCurrencyMismatch     = newError(ClassValidation, "CURRENCY_MISMATCH", "currency does not match account currency")
	ErrInvalidRequest       = newError(ClassValidation, "INVALID_REQUEST", "request failed validation")
	ErrInvalidRule          = newError(ClassValidation, "INVALID_RULE", "fraud rule conditions are invalid")
	ErrRefundExceedsAmount  = newError(ClassValidation, "REFUND_EXCEEDS_AMOUNT", "refund exceeds the disputed movement amount")
	ErrNotDisputable        = newError(ClassValidation, "NOT_DISPUTABLE", "movement cannot be disputed")
	ErrInvalidAlertStatus   = newError(ClassValidation, "INVALID_ALERT_STATUS", "alert review status is invalid")
)

// State-conflict errors
var (
	ErrInsufficientBalance   = newError(ClassConflict, "INSUFFICIENT_BALANCE", "insufficient balance")
	ErrAccountUnavailable    = newError(ClassConflict, "ACCOUNT_UNAVAILABLE", "account is suspended or deleted")
	ErrAlreadyClaimed        = newError(ClassConflict, "ALREADY_CLAIMED", "escrow hold already claimed")
	ErrEscrowExpired         = newError(ClassConflict, "EXPIRED", "escrow hold has expired")
	ErrEmailMismatch         = newError(ClassConflict, "EMAIL_MISMATCH", "claimant email does not match escrow recipient")
	ErrInvalidHoldStatus     = newError(ClassConflict, "INVALID_HOLD_STATUS", "escrow hold is not pending")
	ErrDisputeAlreadyOpen    = newError(ClassConflict, "DISPUTE_ALREADY_OPEN", "an open dispute already exists for this movement")
	ErrInvalidDisputeStatus  = newError(ClassConflict, "INVALID_DISPUTE_STATUS", "dispute cannot transition from its current status")
	ErrDuplicateMovement     = newError(ClassConflict, "DUPLICATE_MOVEMENT", "a movement with this idempotency key already exists")
	ErrMovementNotCompleted  = newError(ClassConflict, "MOVEMENT_NOT_COMPLETED", "movement is not completed")
	ErrQueueFull             = newError(ClassConflict, "QUEUE_FULL", "fraud evaluation queue is full")
	ErrAccountAlreadyExists  = newError(ClassConflict, "ACCOUNT_ALREADY_EXISTS", "account already exists")
	ErrDuplicateRequest      = newError(ClassConflict, "DUPLICATE_REQUEST", "duplicate request in flight")
)

// Not-found and forbidden errors
var (
	ErrAccountNotFound  = newError(ClassNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	ErrMovementNotFound = newError(ClassNotFound, "MOVEMENT_NOT_FOUND", "movement not found")
	ErrHoldNotFound     = newError(ClassNotFound, "HOLD_NOT_FOUND", "escrow hold not found")
	ErrDisputeNotFound  = newError(ClassNotFound, "DISPUTE_NOT_FOUND", "dispute not found")
	ErrRuleNotFound     = newError(ClassNotFound, "RULE_NOT_FOUND", "fraud rule not found")
	ErrAlertNotFound    = newError(ClassNotFound, "ALERT_NOT_FOUND", "fraud alert not found")
	ErrForbidden        = newError(ClassForbidden, "FORBIDDEN", "caller may not perform this action")
)

// ErrInfrastructure is the sentinel for datastore and broker failures.
var ErrInfrastructure = newError(ClassInfrastructure, "INFRASTRUCTURE_ERROR", "temporary infrastructure failure")

// Infrastructure wraps a raw datastore error so callers see a stable code and message.
// The raw error stays reachable through Unwrap for logging.
func Infrastructure(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    ErrInfrastructure.Code,
		Class:   ClassInfrastructure,
		Message: message,
		cause:   err,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// As finds the first typed error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ClassOf reports the class of err, defaulting to infrastructure for untyped errors.
func ClassOf(err error) Class {
	if e, ok := As(err); ok {
		return e.Class
	}
	return ClassInfrastructure
}

// Public returns the code and message safe to expose to a caller.
func Public(err error) (code, message string) {
	e, ok := As(err)
	if !ok || e.Class == ClassInfrastructure {
		return ErrInfrastructure.Code, ErrInfrastructure.Message
	}
	return e.Code, e.Message
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
