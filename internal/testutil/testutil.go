package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use so it can drive background sweepers.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// DefaultTestTime is a fixed instant used as the starting point of mock clocks
var DefaultTestTime = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

// NewRequest builds a request with a fixed remote address and user agent
func NewRequest(method, target, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remoteAddr
	req.Header.Set("User-Agent", "apiguard-test/1.0")
	return req
}

// JSONHandler returns a handler that writes body as JSON with the given status
// and counts its invocations.
func JSONHandler(status int, body string, calls *int) http.Handler {
	var mu sync.Mutex
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if calls != nil {
			*calls++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}
