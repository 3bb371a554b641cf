// Package envelope writes the JSON error envelope shared by every guard that
// short-circuits a request.
package envelope

import (
	"encoding/json"
	"net/http"
	"time"
)

// TimestampFormat is ISO-8601 with millisecond precision. Format UTC times only.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ErrorBody is the "error" member of the envelope
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// ErrorResponse is the full error envelope
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     ErrorBody `json:"error"`
	Timestamp string    `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

// FormatTimestamp renders t in UTC using TimestampFormat
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// WriteError writes status and the error envelope as JSON
func WriteError(w http.ResponseWriter, status int, body ErrorBody, requestID string, now time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Success:   false,
		Error:     body,
		Timestamp: FormatTimestamp(now),
		RequestID: requestID,
	})
}
