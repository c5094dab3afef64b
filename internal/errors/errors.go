// Package errors holds the domain errors shared by the ledger engine and
// its HTTP surface. Import it as apperrors.
package errors

import (
	"errors"
	"fmt"
)

// DomainError is a stable machine code plus a human message.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches on Code so wrapped copies compare equal to the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound = &DomainError{
		Code:    "NOT_FOUND",
		Message: "resource not found",
	}
	ErrDuplicateReference = &DomainError{
		Code:    "DUPLICATE_REFERENCE",
		Message: "transaction reference already exists",
	}
	ErrGatewayUnreachable = &DomainError{
		Code:    "GATEWAY_UNREACHABLE",
		Message: "payment gateway is unreachable",
	}
	ErrGatewayTimeout = &DomainError{
		Code:    "GATEWAY_TIMEOUT",
		Message: "payment gateway did not answer in time",
	}
	ErrGatewayRejected = &DomainError{
		Code:    "GATEWAY_REJECTED",
		Message: "payment gateway rejected the request",
	}
	ErrInvalidSignature = &DomainError{
		Code:    "INVALID_SIGNATURE",
		Message: "webhook signature is invalid",
	}
	ErrForbidden = &DomainError{
		Code:    "FORBIDDEN",
		Message: "resource belongs to another user",
	}
	ErrInternal = &DomainError{
		Code:    "INTERNAL",
		Message: "internal error",
	}
)

// ValidationError rejects a malformed request before any lock is taken.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
