// Package domainerrors defines the coded error type returned across service
// boundaries. Handlers translate codes into HTTP statuses; stores never return
// these directly (they return pkg/platform/sentinel errors instead).
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for transport mapping and retry decisions.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Ledger verification outcomes.
	CodeLedgerUnavailable   Code = "ledger_unavailable"
	CodeLedgerNotFound      Code = "ledger_not_found"
	CodeLedgerTxFailed      Code = "ledger_tx_failed"
	CodeEventNotFound       Code = "event_not_found"
	CodeIdentityMismatch    Code = "identity_mismatch"
	CodePayloadHashMismatch Code = "payload_hash_mismatch"

	// Sealing and decryption outcomes.
	CodeKeyFormat        Code = "key_format_error"
	CodeUnwrapFailed     Code = "unwrap_failed"
	CodeDecryptFailed    Code = "decrypt_failed"
	CodeMalformedPayload Code = "malformed_payload"
	CodeConfiguration    Code = "configuration_error"
)

// Error is a domain error with a stable code and a caller-facing message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// As returns the outermost domain error in the chain, if any.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error in err has the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the code of err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeLedgerUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// ToHTTPStatus maps a code to the HTTP status used by the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeIdentityMismatch:
		return http.StatusForbidden
	case CodeNotFound, CodeLedgerNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeLedgerTxFailed, CodeEventNotFound, CodePayloadHashMismatch, CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether the message of an error with this code may be shown
// to the caller. Internal and cryptographic failures are logged only.
func Public(code Code) bool {
	switch code {
	case CodeInternal, CodeConfiguration, CodeUnwrapFailed, CodeDecryptFailed,
		CodeMalformedPayload, CodeKeyFormat:
		return false
	default:
		return true
	}
}
