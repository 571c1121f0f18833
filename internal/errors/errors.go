package errors

import (
	"errors"
	"fmt"
	"strings"
)

// CorpusError is the structured error type for corpusmcp.
// It provides rich context for error handling, logging, and user presentation.
type CorpusError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, etc.).
	Category Category

	// Severity is the error severity level.
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
func (e *CorpusError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CorpusError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CorpusError.
func (e *CorpusError) Is(target error) bool {
	if t, ok := target.(*CorpusError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CorpusError) WithDetail(key, value string) *CorpusError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *CorpusError) WithSuggestion(suggestion string) *CorpusError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CorpusError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CorpusError {
	return &CorpusError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CorpusError from an existing error.
// The error's message becomes the CorpusError message.
func Wrap(code string, err error) *CorpusError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CorpusError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// LockError creates a lock acquisition error. Treated as fatal.
func LockError(message string, cause error) *CorpusError {
	return New(ErrCodeLockFailed, message, cause)
}

// CorruptionError creates an index corruption error.
// Corruption is never auto-repaired; the suggestion points at a rebuild.
func CorruptionError(message string, cause error) *CorpusError {
	return New(ErrCodeCorruptIndex, message, cause).
		WithSuggestion("Run 'corpusmcp build --force' to rebuild the index")
}

// IOError creates a storage-related error.
func IOError(message string, cause error) *CorpusError {
	return New(ErrCodeStoreFailed, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *CorpusError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CorpusError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CorpusError {
	return New(ErrCodeInternal, message, cause)
}

// corruptionMarkers are substrings that identify low-level store corruption.
// SQLite reports malformed databases with stable message text; Bleve reports
// unreadable index metadata.
var corruptionMarkers = []string{
	"database disk image is malformed",
	"file is not a database",
	"malformed database schema",
	"error reading index metadata",
	"index corrupt",
}

// IsCorruption reports whether err signals index corruption requiring a
// rebuild. True for ERR_205_CORRUPT_INDEX anywhere in the chain, and for
// known corruption messages from the underlying stores.
func IsCorruption(err error) bool {
	if err == nil {
		return false
	}

	var ce *CorpusError
	if errors.As(err, &ce) && ce.Code == ErrCodeCorruptIndex {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CorpusError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *CorpusError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *CorpusError
	if errors.As(err, &ce) {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CorpusError.
// Returns empty string if not a CorpusError.
func GetCode(err error) string {
	var ce *CorpusError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CorpusError.
// Returns empty string if not a CorpusError.
func GetCategory(err error) Category {
	var ce *CorpusError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}
