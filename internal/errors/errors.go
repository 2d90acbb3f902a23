package errors

import (
	"fmt"
)

// EngineError is the structured error type for docseek.
// It provides rich context for error handling, logging, and caller presentation.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_501_DUPLICATE_JOB").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Document, Index, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with EngineError.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new EngineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error.
// The error's message becomes the EngineError message.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// DocumentProcessingError creates a per-document extraction error.
// These are recovered by skipping the file and counted in job stats.
func DocumentProcessingError(path string, cause error) *EngineError {
	return New(ErrCodeDocumentProcessing, fmt.Sprintf("failed to process document %s", path), cause).
		WithDetail("path", path)
}

// IndexCorruptionError creates an index-wide corruption error.
// Recoverable only via a full rebuild.
func IndexCorruptionError(message string, cause error) *EngineError {
	return New(ErrCodeIndexCorruption, message, cause)
}

// ModelUnavailableError creates an embedding model availability error.
// Degrades semantic search rather than failing the engine.
func ModelUnavailableError(modelID string, cause error) *EngineError {
	return New(ErrCodeModelUnavailable, fmt.Sprintf("embedding model %q unavailable", modelID), cause).
		WithDetail("model_id", modelID)
}

// DuplicateJobError creates a job admission error for an already-targeted path.
func DuplicateJobError(targetPath string) *EngineError {
	return New(ErrCodeDuplicateJob, fmt.Sprintf("an active job already targets %s", targetPath), nil).
		WithDetail("target_path", targetPath)
}

// CapacityExceededError creates a job admission error for a full scheduler.
func CapacityExceededError(maxJobs int) *EngineError {
	return New(ErrCodeCapacityExceeded, fmt.Sprintf("maximum of %d concurrent jobs reached", maxJobs), nil)
}

// QueryError creates a malformed-query error.
func QueryError(message string, cause error) *EngineError {
	return New(ErrCodeInvalidQuery, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an EngineError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an EngineError.
// Returns empty string if not an EngineError.
func GetCode(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ""
}

// HasCode reports whether err (or any error in its chain) carries the code.
func HasCode(err error, code string) bool {
	for err != nil {
		if ee, ok := err.(*EngineError); ok && ee.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
