package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put raw credentials, backup codes, or audit detail payloads
// into spans. Traces are retained longer and seen by a wider audience than the audit
// log itself. Only record identifiers and outcomes.
const (
	// Audit attributes
	AttrAuditAction    = "audit.action"
	AttrAuditSuccess   = "audit.success"
	AttrAuditUserID    = "audit.user_id"
	AttrAuditCompanyID = "audit.company_id"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"

	// Cache attributes
	AttrCacheResult = "cache.result"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddAuditAttributes adds audit record identifiers to a span (nil-safe)
func AddAuditAttributes(span trace.Span, action, userID, companyID string, success bool) {
	SetSpanAttributes(span,
		attribute.String(AttrAuditAction, action),
		attribute.Bool(AttrAuditSuccess, success),
	)
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrAuditUserID, userID))
	}
	if companyID != "" {
		SetSpanAttributes(span, attribute.String(AttrAuditCompanyID, companyID))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddStorageResult records the outcome of a storage operation on a span (nil-safe)
func AddStorageResult(span trace.Span, err error) {
	if err != nil {
		SetSpanAttributes(span, attribute.String(AttrStorageResult, "error"))
		RecordError(span, err)
		return
	}
	SetSpanAttributes(span, attribute.String(AttrStorageResult, "success"))
	SetSpanSuccess(span)
}

// AddCacheAttributes records whether the response came from the cache (nil-safe)
func AddCacheAttributes(span trace.Span, result string) {
	SetSpanAttributes(span, attribute.String(AttrCacheResult, result))
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// RateLimiterAttr returns the limiter class attribute
func RateLimiterAttr(limiter string) attribute.KeyValue {
	return attribute.String(AttrRateLimiterType, limiter)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Check Instrumentation.ShouldLogClientIPs before calling.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
