// Package apperror defines the error taxonomy shared by every layer.
//
// Lower layers wrap one of the sentinel kinds below in an *AppError; the
// HTTP layer maps the kind to a status code or redirect with errors.Is and
// shows AppError.Message to the user. Anything that is not an *AppError is
// treated as an internal failure and its text never reaches the browser.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConfiguration      = errors.New("configuration error")
	ErrNetwork            = errors.New("network error")
	ErrUpstreamRejected   = errors.New("upstream rejected")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // human-readable, safe to show the user
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying error, for logs only
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Unauthorized reports a missing, expired or forged credential.
// HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Configuration reports an invalid startup configuration. It is fatal.
func Configuration(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrConfiguration,
		Message: message,
		Cause:   cause,
	}
}

// Network reports an unreachable upstream or an expired call timeout.
func Network(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrNetwork,
		Message: fmt.Sprintf("%s: upstream unreachable", operation),
		Cause:   cause,
	}
}

// UpstreamRejected reports a non-2xx answer from the identity provider.
// The upstream body belongs in the logs, not in Message.
func UpstreamRejected(operation string, status int, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstreamRejected,
		Message: fmt.Sprintf("%s: upstream rejected the request (status %d)", operation, status),
		Cause:   cause,
	}
}

// StorageUnavailable reports a failure of the profile or session store.
func StorageUnavailable(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorageUnavailable,
		Message: fmt.Sprintf("%s: storage unavailable", operation),
		Cause:   cause,
	}
}
