// Package apperr holds the error kinds shared by the service layers and the
// transports that map them to status codes.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrValidationConflict rejects a write that would change an immutable
	// field, such as a note's non-empty created timestamp.
	ErrValidationConflict = errors.New("validation conflict")
	// ErrConcurrencyConflict is returned once the bounded retry for a unique
	// constraint race is exhausted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrMergeConflict       = errors.New("merge conflict")
	ErrExternalTool        = errors.New("external tool failure")
	ErrMissingConfig       = errors.New("missing configuration")
	ErrInvalidInput        = errors.New("invalid input")
)
