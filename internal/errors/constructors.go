package errors

import "fmt"

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *ScanError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *ScanError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// SessionNotFound creates a session not found error
func SessionNotFound(id string) *ScanError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", id)).
		WithDetail("sessionId", id)
}

// SessionClosed reports an operation on a session that already ended.
func SessionClosed(id string) *ScanError {
	return New(ErrCodeSessionClosed, fmt.Sprintf("session closed: %s", id)).
		WithDetail("sessionId", id)
}

// MaxSessions creates a session limit error
func MaxSessions(limit int) *ScanError {
	return New(ErrCodeMaxSessions, fmt.Sprintf("maximum session limit reached (%d)", limit)).
		WithDetail("limit", limit)
}

// CameraUnavailable reports a missing permission or device.
func CameraUnavailable(id string, hasPermission, hasDevice bool) *ScanError {
	return New(ErrCodeCameraUnavailable, "camera permission or device missing").
		WithDetail("sessionId", id).
		WithDetail("hasPermission", hasPermission).
		WithDetail("hasDevice", hasDevice)
}

// AlreadyScanning reports a resume on a session that is still scanning.
func AlreadyScanning(id string) *ScanError {
	return New(ErrCodeAlreadyScanning, fmt.Sprintf("session already scanning: %s", id)).
		WithDetail("sessionId", id)
}

// InvalidImage wraps an image decoding failure.
func InvalidImage(err error) *ScanError {
	return Wrap(err, ErrCodeInvalidImage, "could not decode frame image")
}
