package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same shape:
//   {"error": "validation_error", "message": "title is required", "field": "title"}
//
// "field" is only present when one request field caused the error.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/goal-tracker/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Request field at fault, if any
}

// MessageResponse is the body of endpoints that have nothing else to say.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE writing the body. Once
// Encode writes, the headers are sent and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	apperror.ErrValidation   → 422 validation_error
//	apperror.ErrUnauthorized → 401 unauthorized
//	apperror.ErrForbidden    → 403 forbidden  (goal handlers fold this into 404 first)
//	apperror.ErrNotFound     → 404 not_found
//	apperror.ErrConflict     → 409 conflict
//	apperror.ErrRateLimited  → 429 rate_limited
//	malformed request body   → 400 bad_request
//	anything else            → 500 internal_error (details only in the log)
//
// errors.Is() walks the whole chain, so a service error like
// fmt.Errorf("service/goal: ...: %w", apperror.NotFound(...)) still matches.
func writeError(w http.ResponseWriter, err error) {
	var badReq *badRequestError
	if errors.As(err, &badReq) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: badReq.msg,
		})
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusUnprocessableEntity // 422
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized // 401
			errorType = "unauthorized"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound // 404
			errorType = "not_found"
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden // 403
			errorType = "forbidden"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict // 409
			errorType = "conflict"
		case errors.Is(err, apperror.ErrRateLimited):
			status = http.StatusTooManyRequests // 429
			errorType = "rate_limited"
		}

		if status != http.StatusInternalServerError {
			if status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer realm="goal-tracker"`)
			}
			writeJSON(w, status, ErrorResponse{
				Error:   errorType,
				Message: appErr.Message,
				Field:   appErr.Field,
			})
			return
		}
	}

	// Unknown error: return a generic 500.
	// NEVER expose internal error details to the client. The raw message
	// might contain SQL, file paths, or other sensitive info.
	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// WriteError is writeError for middleware that answers before any handler
// runs, such as the login rate limiter.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err)
}
