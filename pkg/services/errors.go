package services

import (
	"errors"
	"fmt"

	"github.com/codeready-toolchain/supportdesk/pkg/models"
	"github.com/codeready-toolchain/supportdesk/pkg/store"
)

var (
	// ErrNotFound is returned for an unknown session or user
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a session is already ACTIVE under a different agent
	ErrConflict = errors.New("session already assigned to another agent")

	// ErrInvalidState is returned when a transition is not allowed from the
	// session's current status
	ErrInvalidState = errors.New("invalid session state")

	// ErrForbidden is returned when the caller is not a participant of the session
	ErrForbidden = errors.New("forbidden")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StateError reports a transition refused because of the session's status.
// It matches ErrInvalidState with errors.Is.
type StateError struct {
	SessionID string
	Current   models.SessionStatus
	Op        string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s session %s: session is %s", e.Op, e.SessionID, e.Current)
}

// Unwrap returns ErrInvalidState.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func newStateError(op string, s *models.Session) error {
	return &StateError{SessionID: s.ID, Current: s.Status, Op: op}
}

// translateStoreError maps store sentinels onto service sentinels so callers
// only need to know this package's errors.
func translateStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
