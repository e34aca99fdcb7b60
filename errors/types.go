package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Session errors
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionUnmatched ErrorCode = "SESSION_UNMATCHED"
	ErrCodeSessionInFlight  ErrorCode = "SESSION_IN_FLIGHT"

	// Sync errors
	ErrCodeLockHeld      ErrorCode = "LOCK_HELD"
	ErrCodeSyncFailed    ErrorCode = "SYNC_FAILED"
	ErrCodeRemoteStatus  ErrorCode = "REMOTE_STATUS"
	ErrCodeRemoteTimeout ErrorCode = "REMOTE_TIMEOUT"

	// Storage errors
	ErrCodeAtomicWrite  ErrorCode = "ATOMIC_WRITE"
	ErrCodeRecordParse  ErrorCode = "RECORD_PARSE"
	ErrCodeStoreCorrupt ErrorCode = "STORE_CORRUPT"

	// General errors
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// CodemieError represents a structured error with context
type CodemieError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *CodemieError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *CodemieError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *CodemieError) WithDetail(key string, value interface{}) *CodemieError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *CodemieError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new CodemieError
func New(code ErrorCode, message string) *CodemieError {
	return &CodemieError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a CodemieError
func Wrap(err error, code ErrorCode, message string) *CodemieError {
	return &CodemieError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific CodemieError code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	cErr, ok := err.(*CodemieError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	return cErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	cErr, ok := err.(*CodemieError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return cErr.Code
}
