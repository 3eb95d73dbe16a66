package services

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services.
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrAnswerNotFound  = errors.New("answer not found")
	ErrStudentNotFound = errors.New("student not found")

	// ErrAttemptNotSubmitted is returned when evaluation is requested for
	// an attempt that was never submitted.
	ErrAttemptNotSubmitted = errors.New("attempt not submitted")

	// ErrAttemptAlreadySubmitted guards double submission.
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")

	// ErrEvaluationPending means some answers still await external grading,
	// so final statistics cannot be persisted yet.
	ErrEvaluationPending = errors.New("evaluation pending")

	ErrAccessDenied = errors.New("access denied")
)

// ValidationError carries a field-level business rule failure up to handlers.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// PermissionError distinguishes authorization failures from validation ones.
type PermissionError struct {
	Message string
}

func (e *PermissionError) Error() string {
	return e.Message
}

func NewPermissionError(message string) *PermissionError {
	return &PermissionError{Message: message}
}

// IsValidationError checks whether err is a field validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPermissionError checks whether err is an authorization failure.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
