package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode identifies a failure condition. Codes double as the protocol's
// error codes sent to the page.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Session errors
	ErrCodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionClosed     ErrorCode = "SESSION_CLOSED"
	ErrCodeMaxSessions       ErrorCode = "MAX_SESSIONS"
	ErrCodeCameraUnavailable ErrorCode = "CAMERA_UNAVAILABLE"
	ErrCodeAlreadyScanning   ErrorCode = "ALREADY_SCANNING"

	// Input errors
	ErrCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	ErrCodeInvalidImage   ErrorCode = "INVALID_IMAGE"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// ScanError is a structured error with a code and context.
type ScanError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *ScanError) WithDetail(key string, value interface{}) *ScanError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *ScanError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new ScanError
func New(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a ScanError
func Wrap(err error, code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	scanErr, ok := err.(*ScanError)
	if !ok {
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return scanErr.Code
}
