package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrMissingURL       = errors.New("missing image url")
	ErrInvalidURL       = errors.New("invalid image url")
	ErrMissingHash      = errors.New("missing content hash")
	ErrInvalidHash      = errors.New("malformed content hash")
	ErrMissingCategory  = errors.New("missing category")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNotUnitNorm      = errors.New("embedding is not unit norm")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
