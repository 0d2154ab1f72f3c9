package errors

import (
	"errors"
	"fmt"
)

// RegError is the structured error type for regsearch.
// It carries enough context for logging, HTTP mapping and CLI output.
type RegError struct {
	// Code is the unique error code (e.g., "ERR_301_TIER_TRANSPORT").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RegError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RegError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against code-only sentinels.
func (e *RegError) Is(target error) bool {
	if t, ok := target.(*RegError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RegError) WithDetail(key, value string) *RegError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RegError) WithSuggestion(suggestion string) *RegError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RegError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RegError {
	return &RegError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RegError from an existing error.
func Wrap(code string, err error) *RegError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RegError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a storage-related error.
func StorageError(message string, cause error) *RegError {
	return New(ErrCodeDatabase, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RegError {
	return New(ErrCodeInvalidInput, message, cause)
}

// IsRetryable checks if any error in the chain is a retryable RegError.
func IsRetryable(err error) bool {
	var re *RegError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from the first RegError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var re *RegError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from the first RegError in the chain.
func GetCategory(err error) Category {
	var re *RegError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}
