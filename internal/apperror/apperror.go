// Package apperror defines the error taxonomy shared by every layer.
//
// Each failure class has a sentinel (ErrValidation, ErrConflict, ...) and a
// constructor returning *AppError. Callers classify with errors.Is against the
// sentinel; the HTTP layer maps sentinels to status codes. Message is always
// safe to show to a client. Cause keeps the underlying driver/SDK error for
// logging and is deliberately left out of Error().
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrExpiredSession     = errors.New("session expired")
	ErrIntegrity          = errors.New("integrity error")
	ErrUpload             = errors.New("upload failed")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
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

// Conflict reports a uniqueness violation on the given field,
// e.g. Conflict("user", "email").
func Conflict(resource, field string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s with this %s already exists", resource, field),
		Field:   field,
	}
}

// InvalidCredentials is returned for a failed password check. The message is
// identical for every cause so it does not reveal which part was wrong.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid user credentials",
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// ExpiredSession tells the client to log in again rather than retry.
// It covers both a cryptographically expired refresh token and a refresh
// token that has been superseded or revoked.
func ExpiredSession(message string) *AppError {
	return &AppError{
		Err:     ErrExpiredSession,
		Message: message,
	}
}

func Integrity(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrIntegrity,
		Message: message,
		Cause:   cause,
	}
}

func UploadFailed(cause error) *AppError {
	return &AppError{
		Err:     ErrUpload,
		Message: "file upload failed, please try again",
		Cause:   cause,
	}
}

// StoreUnavailable wraps an unexpected failure of an external dependency
// (database, token signing) that the caller may retry.
func StoreUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStoreUnavailable,
		Message: "service temporarily unavailable, please try again",
		Cause:   fmt.Errorf("%s: %w", op, cause),
	}
}

// Translate returns err unchanged when it already belongs to the taxonomy and
// wraps anything else as StoreUnavailable. Used at service boundaries so no
// raw driver error reaches a client.
func Translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return StoreUnavailable(op, err)
}
