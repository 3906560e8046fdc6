// Package apperr defines the coded errors surfaced by the coordinator.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error condition.
type Code string

const (
	// Local checks that fail before any network call.
	CodePrecondition   Code = "PRECONDITION"
	CodePayoutRequired Code = "PAYOUT_REQUIRED"
	CodeInvalidState   Code = "INVALID_STATE"
	CodeBusy           Code = "BUSY"

	// Payment collection ended without authorization.
	CodePaymentCanceled Code = "PAYMENT_CANCELED"

	// Remote failures.
	CodeNetwork       Code = "NETWORK"
	CodeUnavailable   Code = "CHANNEL_UNAVAILABLE"
	CodePollExhausted Code = "POLL_EXHAUSTED"

	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional context.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}

	e.Details[key] = value

	return e
}

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	return GetCode(err) == code
}

// GetCode extracts the code of the first *Error in err's chain.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}

// UserMessage returns the message suitable for a blocking alert.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}

	return fallback
}
