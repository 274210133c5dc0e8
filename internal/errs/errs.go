// Package errs defines the domain error taxonomy shared by the core
// components and translated to HTTP responses by the API layer.
//
// The split matters to producers: a ValidationError means the batch is
// malformed and retrying is pointless; a TransientError means persistence
// hiccuped and the same batch should be retried.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or unrecognized input. Rejected
// synchronously, before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidation creates a ValidationError for a named field.
func NewValidation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown entity, alert or rule ID.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound creates a NotFoundError for a resource/ID pair.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports a create that collides with an existing record.
type ConflictError struct {
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}

// NewConflict creates a ConflictError for a resource/ID pair.
func NewConflict(resource, id string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id}
}

// TransientError reports a persistence failure the caller may retry.
// Liveness updates applied before the failure are not rolled back.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps a store failure with the operation that hit it.
func NewTransient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// ErrEvaluationSkipped marks a rule whose target field is absent from the
// snapshot under evaluation. Logged at debug level, never surfaced.
var ErrEvaluationSkipped = errors.New("evaluation skipped: field not present")

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
