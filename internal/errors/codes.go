// Package errors provides structured error handling for regsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index, database, disk)
//   - 3XX: Tier transport errors
//   - 4XX: Validation and query errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index, database and disk errors.
	CategoryStorage Category = "STORAGE"
	// CategoryTransport indicates failures talking to a backing store.
	CategoryTransport Category = "TRANSPORT"
	// CategoryValidation indicates input or query validation errors.
	CategoryValidation Category = "VALIDATION"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeSynonymsFile   = "ERR_103_SYNONYMS_FILE"

	// Storage errors (200-299)
	ErrCodeIndexOpen    = "ERR_201_INDEX_OPEN"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeDatabase     = "ERR_203_DATABASE"
	ErrCodeFixtureLoad  = "ERR_204_FIXTURE_LOAD"

	// Tier transport errors (300-399)
	ErrCodeTierTransport = "ERR_301_TIER_TRANSPORT"
	ErrCodeTierTimeout   = "ERR_302_TIER_TIMEOUT"
	ErrCodeCircuitOpen   = "ERR_303_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeTierQuery      = "ERR_403_TIER_QUERY"
	ErrCodeQueryEmpty     = "ERR_404_QUERY_EMPTY"
	ErrCodeFilterRejected = "ERR_405_FILTER_REJECTED"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeEngineExhausted = "ERR_503_ENGINE_EXHAUSTED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "301" from "ERR_301_TIER_TRANSPORT"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryTransport
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeEngineExhausted:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a code represents a transient failure.
// Only transport failures qualify; timeouts are never retried.
func isRetryableCode(code string) bool {
	return code == ErrCodeTierTransport
}
