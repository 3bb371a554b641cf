package util

import (
	"bytes"
	"net/http"
)

// CaptureWriter wraps an http.ResponseWriter, recording the status code and
// optionally teeing up to a limit of body bytes into a buffer. The client
// always receives the full response.
type CaptureWriter struct {
	http.ResponseWriter

	status      int
	wroteHeader bool

	buf      *bytes.Buffer
	limit    int
	overflow bool
}

// NewStatusWriter records the status only
func NewStatusWriter(w http.ResponseWriter) *CaptureWriter {
	return &CaptureWriter{ResponseWriter: w, status: http.StatusOK}
}

// NewCaptureWriter records the status and up to limit body bytes
func NewCaptureWriter(w http.ResponseWriter, limit int) *CaptureWriter {
	return &CaptureWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
		buf:            &bytes.Buffer{},
		limit:          limit,
	}
}

// WriteHeader records the status and forwards it
func (c *CaptureWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

// Write forwards p and captures it while under the limit
func (c *CaptureWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if c.buf != nil && !c.overflow {
		if c.buf.Len()+len(p) > c.limit {
			c.overflow = true
			c.buf.Reset()
		} else {
			c.buf.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (c *CaptureWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

// Status returns the response status (200 if the handler never set one)
func (c *CaptureWriter) Status() int {
	return c.status
}

// Body returns the captured bytes, or nil when not capturing or over the limit
func (c *CaptureWriter) Body() []byte {
	if c.buf == nil || c.overflow {
		return nil
	}
	return c.buf.Bytes()
}

// Overflowed reports whether the body exceeded the capture limit
func (c *CaptureWriter) Overflowed() bool {
	return c.overflow
}
