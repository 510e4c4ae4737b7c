package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes backup subsystem failures.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeStorage     ErrorType = "storage"
	ErrorTypeDatabase    ErrorType = "database"
	ErrorTypeCompression ErrorType = "compression"
	ErrorTypeEncryption  ErrorType = "encryption"
	ErrorTypeCloud       ErrorType = "cloud"
	ErrorTypeRestore     ErrorType = "restore"
	ErrorTypeSchedule    ErrorType = "schedule"
	ErrorTypeInternal    ErrorType = "internal"
)

// Error is a categorized error with an optional wrapped cause.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by category so callers can use errors.Is with a
// bare &Error{Type: ...} sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Type == t.Type
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

func NewValidationError(message string, cause error) *Error {
	return newError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *Error {
	return newError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *Error {
	return newError(ErrorTypeConflict, message, cause)
}

func NewStorageError(message string, cause error) *Error {
	return newError(ErrorTypeStorage, message, cause)
}

func NewDatabaseError(message string, cause error) *Error {
	return newError(ErrorTypeDatabase, message, cause)
}

func NewCompressionError(message string, cause error) *Error {
	return newError(ErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *Error {
	return newError(ErrorTypeEncryption, message, cause)
}

func NewCloudError(message string, cause error) *Error {
	return newError(ErrorTypeCloud, message, cause)
}

func NewRestoreError(message string, cause error) *Error {
	return newError(ErrorTypeRestore, message, cause)
}

func NewScheduleError(message string, cause error) *Error {
	return newError(ErrorTypeSchedule, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return newError(ErrorTypeInternal, message, cause)
}

// IsType reports whether err carries the given category anywhere in
// its chain.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// ValidationErrors accumulates field-level validation failures.
type ValidationErrors struct {
	Errors []FieldError
}

// FieldError is a single invalid field with its rejection reason.
type FieldError struct {
	Field   string
	Message string
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message})
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "no validation errors"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsError returns the accumulator wrapped as a validation Error, or
// nil when nothing was added.
func (v *ValidationErrors) AsError() error {
	if !v.HasErrors() {
		return nil
	}
	return NewValidationError(v.Error(), nil)
}
