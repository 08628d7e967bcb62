package bank

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind identifies the closed set of failure classes a banking provider
// can surface. Callers branch on the kind, never on message text.
type Kind string

const (
	// KindValidation marks malformed input: missing account id,
	// non-positive amount, missing destination.
	KindValidation Kind = "validation"
	// KindInsufficientBalance marks a failed balance check. The error
	// carries the available and required amounts.
	KindInsufficientBalance Kind = "insufficient_balance"
	// KindInvalidCredentials marks an upstream authentication rejection.
	// Never retried.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindNetwork marks a call that never reached the upstream.
	KindNetwork Kind = "network"
	// KindServiceUnavailable marks an upstream 5xx/429 or a simulated outage.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindInvalidResponse marks an upstream payload that could not be
	// parsed into the expected shape. Never retried.
	KindInvalidResponse Kind = "invalid_response"
)

// Error is the single error type crossing the provider boundary.
type Error struct {
	Kind    Kind
	Message string

	// Populated for KindInsufficientBalance.
	Available decimal.Decimal
	Required  decimal.Decimal

	// Populated when the upstream responded with an HTTP status.
	StatusCode int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError builds a provider error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a provider error preserving the underlying cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// InsufficientBalanceError reports a failed balance check with the exact shortfall.
func InsufficientBalanceError(available, required decimal.Decimal) *Error {
	return &Error{
		Kind:      KindInsufficientBalance,
		Message:   fmt.Sprintf("insufficient balance: available %s, required %s", available, required),
		Available: available,
		Required:  required,
	}
}

// IsKind reports whether err carries the given provider error kind.
func IsKind(err error, kind Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == kind
}

// AsError extracts the provider error from err, if any.
func AsError(err error) (*Error, bool) {
	var be *Error
	ok := errors.As(err, &be)
	return be, ok
}

// Retryable reports whether the failure is transient: the upstream was
// unreachable or signalled a temporary outage. Everything else is final.
func Retryable(err error) bool {
	be, ok := AsError(err)
	if !ok {
		return false
	}
	return be.Kind == KindNetwork || be.Kind == KindServiceUnavailable
}

// Terminal reports whether the failure can never succeed on retry with
// the same input: bad credentials, a broken upstream contract, or
// rejected input.
func Terminal(err error) bool {
	be, ok := AsError(err)
	if !ok {
		return false
	}
	switch be.Kind {
	case KindInvalidCredentials, KindInvalidResponse, KindValidation:
		return true
	}
	return false
}
