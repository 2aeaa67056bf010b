// ABOUTME: Error taxonomy shared by both store backends
// ABOUTME: Sentinels for errors.Is plus typed errors carrying the offending field or path

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable is returned when a backend cannot be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMalformedStore is returned when a document fails its shape check
	ErrMalformedStore = errors.New("malformed store")

	// ErrValidation is returned when a record violates a contract
	ErrValidation = errors.New("validation failed")
)

// MalformedError describes a structurally invalid flat-file document.
type MalformedError struct {
	Path   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed store %s: %s", e.Path, e.Reason)
}

// Is enables errors.Is matching against ErrMalformedStore.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedStore
}

// ValidationError identifies the field and record that failed.
type ValidationError struct {
	Field  string
	Record string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s for %q: %s", e.Field, e.Record, e.Reason)
}

// Is enables errors.Is matching against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, record, format string, args ...any) error {
	return &ValidationError{Field: field, Record: record, Reason: fmt.Sprintf(format, args...)}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
