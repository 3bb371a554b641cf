package apiguard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/scmhub/apiguard/internal/envelope"
	"github.com/scmhub/apiguard/security"
)

// Error codes carried in the error envelope
const (
	ErrorCodeRateLimitExceeded = security.ErrorCodeRateLimitExceeded
	ErrorCodeInvalidRequest    = "INVALID_REQUEST"
	ErrorCodeUnauthorized      = "UNAUTHORIZED"
	ErrorCodeForbidden         = "FORBIDDEN"
	ErrorCodeNotFound          = "NOT_FOUND"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
)

// APIError is a user-facing error rendered as
// {success:false,error:{code,message[,retryAfter]},timestamp,requestId}
type APIError struct {
	Code       string // Machine-readable code, e.g. "NOT_FOUND"
	Message    string // Human-readable message, safe to show to clients
	Status     int    // HTTP status code
	RetryAfter int    // Seconds; sent only when positive
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, status int) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// Common API errors
var (
	// ErrInvalidRequest indicates a malformed request
	ErrInvalidRequest = func(msg string) *APIError {
		return NewAPIError(ErrorCodeInvalidRequest, msg, http.StatusBadRequest)
	}

	// ErrUnauthorized indicates missing or invalid credentials
	ErrUnauthorized = func(msg string) *APIError {
		return NewAPIError(ErrorCodeUnauthorized, msg, http.StatusUnauthorized)
	}

	// ErrForbidden indicates the caller lacks permission
	ErrForbidden = func(msg string) *APIError {
		return NewAPIError(ErrorCodeForbidden, msg, http.StatusForbidden)
	}

	// ErrNotFound indicates the resource does not exist
	ErrNotFound = func(msg string) *APIError {
		return NewAPIError(ErrorCodeNotFound, msg, http.StatusNotFound)
	}

	// ErrInternal indicates a server-side failure. The message must not leak internals.
	ErrInternal = func(msg string) *APIError {
		return NewAPIError(ErrorCodeInternalError, msg, http.StatusInternalServerError)
	}

	// ErrRateLimitExceeded indicates the caller must wait retryAfter seconds
	ErrRateLimitExceeded = func(retryAfter int) *APIError {
		e := NewAPIError(ErrorCodeRateLimitExceeded, "Too many requests, please try again later.", http.StatusTooManyRequests)
		e.RetryAfter = retryAfter
		return e
	}
)

// WriteError writes err as the error envelope. Errors that are not an
// *APIError become a generic 500 so internal details never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = ErrInternal("An unexpected error occurred")
	}

	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := envelope.ErrorBody{Code: apiErr.Code, Message: apiErr.Message}
	if apiErr.RetryAfter > 0 {
		retryAfter := apiErr.RetryAfter
		body.RetryAfter = &retryAfter
		w.Header().Set(security.HeaderRetryAfter, fmt.Sprint(retryAfter))
	}

	requestID := ""
	if r != nil {
		requestID = security.GetRequestID(r.Context())
	}
	envelope.WriteError(w, status, body, requestID, time.Now())
}
