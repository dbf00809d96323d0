package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports input that violates a construction invariant.
// It is fully local and never retried.
type ValidationError struct {
	Invariant string
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s", e.Invariant, e.Detail)
}

func validationErrorf(invariant, format string, args ...any) error {
	return &ValidationError{Invariant: invariant, Detail: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RiskLimitError is a business-rule refusal. The request is rejected as-is,
// never clamped and never retried automatically.
type RiskLimitError struct {
	Limit  string
	Detail string
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("risk limit exceeded [%s]: %s", e.Limit, e.Detail)
}

// IsRiskLimit reports whether err is (or wraps) a RiskLimitError.
func IsRiskLimit(err error) bool {
	var r *RiskLimitError
	return errors.As(err, &r)
}

// PersistenceError wraps a failed domain write. When it occurs after the
// exchange confirmed an order the caller must retry the whole call with the
// same client request id; the confirmation is never silently dropped.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}

var (
	// ErrEntryPriceSet guards the set-once invariant on Trade.entry_price.
	ErrEntryPriceSet = errors.New("entry price already set")
	// ErrInvalidTransition is returned for disallowed trade status changes.
	ErrInvalidTransition = errors.New("invalid trade status transition")
)
