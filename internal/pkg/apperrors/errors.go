package apperrors

import "errors"

// Connection errors
var (
	// ErrHandshakeRejected means the server refused the connect handshake (bad credentials,
	// forbidden channel). It is never retried automatically.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrReconnectExhausted is the terminal "give up" marker surfaced after the reconnect
	// policy ran out of attempts.
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

	ErrNotConnected   = errors.New("not connected")
	ErrConnectionBusy = errors.New("connection is being established")
	ErrSessionClosed  = errors.New("session closed")
)

// Timeline errors
var (
	ErrChannelMismatch = errors.New("message belongs to another channel")
	ErrStaleChannel    = errors.New("response for a channel that is no longer active")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrSendFailed      = errors.New("send failed")
)

// Common errors
var (
	// Resource errors
	ErrResourceNotFound      = errors.New("resource not found")
	ErrResourceAlreadyExists = errors.New("resource already exists")

	// Authentication errors
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("invalid token")
	ErrInvalidFormat = errors.New("invalid token format")

	// Authorization errors
	ErrPermissionDenied = errors.New("permission denied")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrBadRequest       = errors.New("bad request")
)

// NewResourceNotFoundError creates a new custom error for resource not found with a message
func NewResourceNotFoundError(message string) error {
	return &CustomError{
		Err:     ErrResourceNotFound,
		Message: message,
	}
}

// NewForbiddenError creates a new custom error for permission denied with a message
func NewForbiddenError(message string) error {
	return &CustomError{
		Err:     ErrPermissionDenied,
		Message: message,
	}
}

// NewBadRequestError creates a new custom error for bad request with a message
func NewBadRequestError(message string) error {
	return &CustomError{
		Err:     ErrBadRequest,
		Message: message,
	}
}

// NewHandshakeError wraps a refused handshake with the server supplied reason
func NewHandshakeError(reason string) error {
	return &CustomError{
		Err:     ErrHandshakeRejected,
		Message: "handshake rejected: " + reason,
		Code:    "HANDSHAKE_REJECTED",
	}
}

// NewGiveUpError builds the terminal reconnect error, keeping the last dial failure as detail
func NewGiveUpError(attempts int, last error) error {
	e := &CustomError{
		Err:     ErrReconnectExhausted,
		Message: "reconnection attempts exhausted",
		Code:    "RECONNECT_EXHAUSTED",
		Details: map[string]interface{}{"attempts": attempts},
	}
	if last != nil {
		e.Details["lastError"] = last.Error()
	}
	return e
}

// IsGiveUp reports whether err is the terminal reconnect marker
func IsGiveUp(err error) bool {
	return errors.Is(err, ErrReconnectExhausted)
}

// CustomError represents application-specific errors with additional context
type CustomError struct {
	Err       error
	Message   string
	StatusMsg string
	Code      string
	Details   map[string]interface{}
}

// Error implements error interface
func (e *CustomError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements errors.Unwrap interface
func (e *CustomError) Unwrap() error {
	return e.Err
}

// NewCustomError creates a CustomError with underlying error
func NewCustomError(err error, message string) *CustomError {
	return &CustomError{
		Err:     err,
		Message: message,
	}
}

// WithDetails adds context details to the error
func (e *CustomError) WithDetails(details map[string]interface{}) *CustomError {
	e.Details = details
	return e
}

// WithCode adds an error code
func (e *CustomError) WithCode(code string) *CustomError {
	e.Code = code
	return e
}
