package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("Expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("GenerateRequestID() = %q is not a UUID: %v", id1, err)
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q must pass validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want \"\"", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		requestID string
		valid     bool
	}{
		{"abc123", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"Root=1-67891233_abcdef", false},
		{"trace_id-42", true},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 129), false},
		{"", false},
		{"id with spaces", false},
		{"id\r\nX-Injected: evil", false},
		{"<script>alert(1)</script>", false},
	}

	for _, tt := range tests {
		if got := isValidRequestID(tt.requestID); got != tt.valid {
			t.Errorf("isValidRequestID(%q) = %v, want %v", tt.requestID, got, tt.valid)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		existingHeader string
		expectNew      bool
	}{
		{name: "generates new ID when not present", expectNew: true},
		{name: "preserves valid upstream ID", existingHeader: "upstream-request-id-xyz"},
		{name: "replaces ID with header injection", existingHeader: "id\nX-Injected: evil", expectNew: true},
		{name: "replaces overlong ID", existingHeader: strings.Repeat("x", 200), expectNew: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.existingHeader != "" {
				req.Header[RequestIDHeader] = []string{tt.existingHeader}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			responseID := rec.Header().Get(RequestIDHeader)
			if responseID == "" || responseID != captured {
				t.Fatalf("response ID %q and context ID %q must match and be non-empty", responseID, captured)
			}

			if tt.expectNew {
				if captured == tt.existingHeader {
					t.Error("Expected a new request ID")
				}
				if _, err := uuid.Parse(captured); err != nil {
					t.Errorf("generated ID %q is not a UUID", captured)
				}
			} else if captured != tt.existingHeader {
				t.Errorf("request ID = %q, want %q", captured, tt.existingHeader)
			}
		})
	}
}
