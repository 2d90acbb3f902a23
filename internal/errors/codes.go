// Package errors provides structured error handling for docseek.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Document and extraction errors
//   - 3XX: Index and store errors
//   - 4XX: Query and validation errors
//   - 5XX: Job scheduling errors
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryDocument indicates per-document processing errors.
	CategoryDocument Category = "DOCUMENT"
	// CategoryIndex indicates index and store errors.
	CategoryIndex Category = "INDEX"
	// CategoryQuery indicates query validation errors.
	CategoryQuery Category = "QUERY"
	// CategoryJob indicates job admission and lifecycle errors.
	CategoryJob Category = "JOB"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Document errors (200-299)
	ErrCodeDocumentProcessing = "ERR_201_DOCUMENT_PROCESSING"
	ErrCodeFileNotFound       = "ERR_202_FILE_NOT_FOUND"
	ErrCodeFileTooLarge       = "ERR_203_FILE_TOO_LARGE"

	// Index and store errors (300-399)
	ErrCodeIndexCorruption   = "ERR_301_INDEX_CORRUPTION"
	ErrCodeModelUnavailable  = "ERR_302_MODEL_UNAVAILABLE"
	ErrCodeDimensionMismatch = "ERR_303_DIMENSION_MISMATCH"
	ErrCodeIndexClosed       = "ERR_304_INDEX_CLOSED"
	ErrCodePersistenceFailed = "ERR_305_PERSISTENCE_FAILED"

	// Query errors (400-499)
	ErrCodeInvalidQuery = "ERR_401_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_402_QUERY_EMPTY"

	// Job errors (500-599)
	ErrCodeDuplicateJob     = "ERR_501_DUPLICATE_JOB"
	ErrCodeCapacityExceeded = "ERR_502_CAPACITY_EXCEEDED"
	ErrCodeJobTimeout       = "ERR_503_JOB_TIMEOUT"
	ErrCodeJobNotFound      = "ERR_504_JOB_NOT_FOUND"

	// Internal errors (600-699)
	ErrCodeInternal = "ERR_601_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryDocument
	case '3':
		return CategoryIndex
	case '4':
		return CategoryQuery
	case '5':
		return CategoryJob
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorruption:
		return SeverityFatal
	case ErrCodeModelUnavailable, ErrCodeDocumentProcessing, ErrCodeFileTooLarge:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
// Job admission rejections are retryable by the caller once the conflicting
// job reaches a terminal state or a slot frees up.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDuplicateJob, ErrCodeCapacityExceeded, ErrCodeModelUnavailable:
		return true
	default:
		return false
	}
}
