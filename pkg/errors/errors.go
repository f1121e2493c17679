package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Device capture failures
	ErrCodeDeviceDenied      ErrorCode = "DEVICE_DENIED"
	ErrCodeDeviceNotFound    ErrorCode = "DEVICE_NOT_FOUND"
	ErrCodeDeviceInUse       ErrorCode = "DEVICE_IN_USE"
	ErrCodeDeviceUnsupported ErrorCode = "DEVICE_UNSUPPORTED"

	// Call session failures
	ErrCodeSignalingTimeout  ErrorCode = "SIGNALING_TIMEOUT"
	ErrCodePeerTransient     ErrorCode = "PEER_TRANSIENT"
	ErrCodePeerFatal         ErrorCode = "PEER_FATAL"
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrCodeNoConnectedPeers  ErrorCode = "NO_CONNECTED_PEERS"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError carrying the same code, so
// errors.Is works against the sentinel values in the domain package.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// NewDeviceError builds a capture failure. The code must be one of the
// DEVICE_* codes.
func NewDeviceError(code ErrorCode, cause error) *AppError {
	return WrapError(cause, code, "media device unavailable", http.StatusFailedDependency)
}

func NewSignalingTimeoutError(participant string) *AppError {
	return NewAppError(ErrCodeSignalingTimeout, "no signaling response within bound", http.StatusGatewayTimeout).
		WithContext("participant_id", participant)
}

func NewPeerError(fatal bool, participant string, cause error) *AppError {
	code := ErrCodePeerTransient
	if fatal {
		code = ErrCodePeerFatal
	}
	return WrapError(cause, code, "peer connection failed", http.StatusBadGateway).
		WithContext("participant_id", participant)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in the chain, or
// ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsDeviceError reports whether err is one of the capture failures.
func IsDeviceError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDeviceDenied, ErrCodeDeviceNotFound, ErrCodeDeviceInUse, ErrCodeDeviceUnsupported:
		return true
	}
	return false
}
