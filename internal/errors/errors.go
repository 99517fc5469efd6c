package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = newSentinel(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = newSentinel(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = newSentinel(ErrCodeValidation, "validation error")
	ErrInvalidOperation = newSentinel(ErrCodeInvalidOperation, "invalid operation")
	ErrHTTPClient       = newSentinel(ErrCodeHTTPClient, "http client error")
	ErrSystem           = newSentinel(ErrCodeSystemError, "system error")

	// Processing-domain errors. Schedule errors abort a run before any
	// submission; formula errors are contract-scoped; submission errors are
	// retried; state store errors are fatal on load and deferred on save.
	ErrSchedule   = newSentinel(ErrCodeSchedule, "schedule error")
	ErrFormula    = newSentinel(ErrCodeFormula, "formula error")
	ErrSubmission = newSentinel(ErrCodeSubmission, "submission error")
	ErrStateStore = newSentinel(ErrCodeStateStore, "state store error")
)

const (
	ErrCodeHTTPClient       = "http_client_error"
	ErrCodeSystemError      = "system_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeSchedule         = "schedule_error"
	ErrCodeFormula          = "formula_error"
	ErrCodeSubmission       = "submission_error"
	ErrCodeStateStore       = "state_store_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func newSentinel(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}

// IsSchedule checks if an error is a schedule error
func IsSchedule(err error) bool {
	return errors.Is(err, ErrSchedule)
}

// IsFormula checks if an error is a formula error
func IsFormula(err error) bool {
	return errors.Is(err, ErrFormula)
}

// IsSubmission checks if an error is a submission error
func IsSubmission(err error) bool {
	return errors.Is(err, ErrSubmission)
}

// IsStateStore checks if an error is a state store error
func IsStateStore(err error) bool {
	return errors.Is(err, ErrStateStore)
}
