// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Collaborator names used in CollaboratorError.
const (
	Generation = "generation"
	Discount   = "discount"
	Delivery   = "delivery"
)

// ErrBatchInProgress is returned when another checker run holds the batch lock.
var ErrBatchInProgress = errors.New("cart check batch already in progress")

// ValidationError reports a missing or malformed ingestion field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failure of an external collaborator.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ConfigurationError reports a required setting that is missing.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Setting)
}

// Helper constructors

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NewPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func NewCollaborator(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Err: err}
}

func NewConfiguration(setting string) error {
	return &ConfigurationError{Setting: setting}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// IsCollaborator reports whether err is a CollaboratorError for the named
// collaborator. An empty name matches any collaborator.
func IsCollaborator(err error, collaborator string) bool {
	var target *CollaboratorError
	if !errors.As(err, &target) {
		return false
	}
	return collaborator == "" || target.Collaborator == collaborator
}
