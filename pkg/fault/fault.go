// Package fault defines the error taxonomy shared across the ledger core.
//
// Every rejection falls into one of five kinds. Validation, business-rule and
// authorization failures abort before any write. Integrity violations are
// findings surfaced by verification, never auto-corrected. Serialization
// conflicts are transient collisions between chained-log writers and are safe
// to retry as a whole transaction.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a fault.
type Kind int

const (
	// Validation marks malformed or missing required fields, rejected pre-write.
	Validation Kind = iota
	// BusinessRule marks a domain invariant violation, rejected pre-write.
	BusinessRule
	// Authorization marks an unauthorized or out-of-scope active role.
	Authorization
	// Integrity marks a signature or chain mismatch found during verification.
	Integrity
	// SerializationConflict marks a concurrent chained-log writer collision.
	SerializationConflict
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "VALIDATION_ERROR"
	case BusinessRule:
		return "BUSINESS_RULE_ERROR"
	case Authorization:
		return "AUTHORIZATION_ERROR"
	case Integrity:
		return "INTEGRITY_VIOLATION"
	case SerializationConflict:
		return "SERIALIZATION_CONFLICT"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified fault. It wraps an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a fault of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates a fault with a formatted detail.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault wrapping a cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// Validationf creates a Validation fault.
func Validationf(format string, args ...any) *Error {
	return Newf(Validation, format, args...)
}

// BusinessRulef creates a BusinessRule fault.
func BusinessRulef(format string, args ...any) *Error {
	return Newf(BusinessRule, format, args...)
}

// Authorizationf creates an Authorization fault.
func Authorizationf(format string, args ...any) *Error {
	return Newf(Authorization, format, args...)
}

// Integrityf creates an Integrity fault.
func Integrityf(format string, args ...any) *Error {
	return Newf(Integrity, format, args...)
}

// IsKind reports whether err is (or wraps) a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or ok=false if err carries no fault.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// RetrySerialization runs fn up to attempts times, retrying only on
// SerializationConflict. Any other error, or context cancellation, stops the
// loop immediately. The last error is returned when attempts are exhausted.
func RetrySerialization(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil || !IsKind(err, SerializationConflict) {
			return err
		}
	}
	return err
}
