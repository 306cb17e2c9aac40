package handler

// RESPONSE HELPERS:
// Every response from the API uses one of two envelopes.
//
// Success:
//
//	{"statusCode": 200, "success": true, "message": "User logged In Successfully", "data": {...}}
//
// Failure:
//
//	{"statusCode": 409, "success": false, "error": "conflict",
//	 "message": "user with this email already exists", "field": "email"}
//
// "error" is the machine-readable code a client switches on; "message" is
// safe to show to a person; "field" names the offending input when there is one.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/account-service/internal/apperror"
)

// APIResponse is the success envelope.
type APIResponse struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Error      string `json:"error"`   // machine-readable code, e.g. "session_expired"
	Message    string `json:"message"` // human-readable description
	Field      string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be written before the body. Once Encode calls
// w.Write, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	if data == nil {
		data = struct{}{}
	}
	writeJSON(w, status, APIResponse{
		StatusCode: status,
		Success:    true,
		Message:    message,
		Data:       data,
	})
}

// errorMapping pairs a sentinel with its HTTP status and machine code.
// Order matters only in that the first match wins.
var errorMapping = []struct {
	sentinel error
	status   int
	code     string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrExpiredSession, http.StatusUnauthorized, "session_expired"},
	{apperror.ErrIntegrity, http.StatusInternalServerError, "integrity_error"},
	{apperror.ErrUpload, http.StatusBadGateway, "upload_failed"},
	{apperror.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
}

// WriteError maps a domain error to an HTTP status and the failure envelope.
//
// The service layer returns *apperror.AppError values and never knows about
// HTTP. This is the one place the two meet. errors.Is walks the Unwrap chain,
// so a wrapped AppError still matches its sentinel.
//
// Anything that is not an AppError becomes a generic 500. Its text is logged
// but NEVER sent: raw errors can carry SQL, file paths or hostnames.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, m := range errorMapping {
			if !errors.Is(err, m.sentinel) {
				continue
			}
			if m.status >= http.StatusInternalServerError {
				attrs := []any{slog.String("code", m.code), slog.String("error", appErr.Message)}
				if appErr.Cause != nil {
					attrs = append(attrs, slog.String("cause", appErr.Cause.Error()))
				}
				slog.Error("request failed", attrs...)
			}
			writeJSON(w, m.status, ErrorResponse{
				StatusCode: m.status,
				Success:    false,
				Error:      m.code,
				Message:    appErr.Message,
				Field:      appErr.Field,
			})
			return
		}
	}

	slog.Error("unhandled error", slog.String("error", errString(err)))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		StatusCode: http.StatusInternalServerError,
		Success:    false,
		Error:      "internal_error",
		Message:    "An internal error occurred",
	})
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
