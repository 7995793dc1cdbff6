// Package dErrors defines coded domain errors. Services translate sentinel
// errors from stores and collaborator failures into these; the transport
// layer maps codes to HTTP statuses. The code is the contract with callers;
// messages are informational only.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. Every failing ledger or registry operation
// surfaces exactly one code and leaves state untouched.
type Code string

const (
	// Ledger and registry error kinds.
	CodeUnauthorized        Code = "unauthorized"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeInvalidState        Code = "invalid_state"
	CodeInvalidRange        Code = "invalid_range"
	CodeIncompleteData      Code = "incomplete_data"
	CodePreconditionFailed  Code = "precondition_failed"
	CodeNotTradable         Code = "instrument_not_tradable"
	CodeIdentityNotVerified Code = "identity_not_verified"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodePaymentMismatch     Code = "payment_mismatch"
	CodeNotFound            Code = "not_found"
	CodeAlreadyExecuted     Code = "already_executed"
	CodeNotMatured          Code = "not_matured"
	CodeNothingToRedeem     Code = "nothing_to_redeem"

	// Generic kinds used at trust boundaries and for infrastructure faults.
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// Error carries a code, a caller-facing message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two domain errors by code and message so tests can compare
// against a freshly built expectation.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Message == other.Message
}

// New builds a domain error with the given code.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause, preserving it for
// errors.Is / errors.As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is a readability alias for HasCode, matching handler call sites.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code onto an HTTP status for the JSON error
// envelope. Precondition-style failures map to 409 rather than 400 because
// the request was well-formed; the system state rejected it.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeInvalidAmount, CodeInvalidRange, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeIncompleteData, CodePreconditionFailed, CodeNotTradable,
		CodeAlreadyExecuted, CodeNotMatured, CodeNothingToRedeem,
		CodeConflict, CodeInvariantViolation, CodeInvalidState:
		return http.StatusConflict
	case CodeIdentityNotVerified:
		return http.StatusForbidden
	case CodeInsufficientBalance, CodePaymentMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
