package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the guard layer.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Rate Limiting Metrics
	RateLimitDecisions metric.Int64Counter
	RateLimitExceeded  metric.Int64Counter
	RateLimitStoreErrs metric.Int64Counter

	// Response Cache Metrics
	CacheLookups       metric.Int64Counter
	CacheStores        metric.Int64Counter
	CacheInvalidations metric.Int64Counter
	CacheSwept         metric.Int64Counter

	// Audit Metrics
	AuditEventsTotal   metric.Int64Counter
	AuditWriteDuration metric.Float64Histogram

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageRateLimitEntries  metric.Int64ObservableGauge
	StorageCacheEntries      metric.Int64ObservableGauge
	AuditQueueDepth          metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	httpMeter := inst.Meter("http")
	securityMeter := inst.Meter("security")
	cacheMeter := inst.Meter("cache")
	auditMeter := inst.Meter("audit")
	storageMeter := inst.Meter("storage")

	// HTTP Layer Metrics
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"apiguard.http.requests.total",
		metric.WithDescription("Total number of HTTP requests that reached a handler"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"apiguard.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	// Rate Limiting Metrics
	m.RateLimitDecisions, err = securityMeter.Int64Counter(
		"apiguard.ratelimit.decisions",
		metric.WithDescription("Number of rate limit admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.decisions counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"apiguard.ratelimit.exceeded",
		metric.WithDescription("Number of requests denied by a rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.RateLimitStoreErrs, err = securityMeter.Int64Counter(
		"apiguard.ratelimit.store_errors",
		metric.WithDescription("Number of rate limit store failures (request admitted)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.store_errors counter: %w", err)
	}

	// Response Cache Metrics
	m.CacheLookups, err = cacheMeter.Int64Counter(
		"apiguard.cache.lookups",
		metric.WithDescription("Number of response cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.lookups counter: %w", err)
	}

	m.CacheStores, err = cacheMeter.Int64Counter(
		"apiguard.cache.stores",
		metric.WithDescription("Number of responses written to the cache"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.stores counter: %w", err)
	}

	m.CacheInvalidations, err = cacheMeter.Int64Counter(
		"apiguard.cache.invalidations",
		metric.WithDescription("Number of cache entries removed by write invalidation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.invalidations counter: %w", err)
	}

	m.CacheSwept, err = cacheMeter.Int64Counter(
		"apiguard.cache.swept",
		metric.WithDescription("Number of expired cache entries removed by the sweeper"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.swept counter: %w", err)
	}

	// Audit Metrics
	m.AuditEventsTotal, err = auditMeter.Int64Counter(
		"apiguard.audit.events",
		metric.WithDescription("Number of audit events by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events counter: %w", err)
	}

	m.AuditWriteDuration, err = auditMeter.Float64Histogram(
		"apiguard.audit.write.duration",
		metric.WithDescription("Audit store append duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.write.duration histogram: %w", err)
	}

	// Storage Metrics
	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"apiguard.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"apiguard.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageRateLimitEntries, err = storageMeter.Int64ObservableGauge(
		"apiguard.storage.ratelimit.entries",
		metric.WithDescription("Current number of tracked rate limit keys"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.ratelimit.entries gauge: %w", err)
	}

	m.StorageCacheEntries, err = storageMeter.Int64ObservableGauge(
		"apiguard.storage.cache.entries",
		metric.WithDescription("Current number of cached responses"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.cache.entries gauge: %w", err)
	}

	m.AuditQueueDepth, err = storageMeter.Int64ObservableGauge(
		"apiguard.audit.queue.depth",
		metric.WithDescription("Audit records waiting to be written"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.queue.depth gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request that reached a handler
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
	))
}

// RecordRateLimitDecision records an admission decision for a named limiter
func (m *Metrics) RecordRateLimitDecision(ctx context.Context, limiter string, allowed bool) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter", limiter),
		attribute.Bool("allowed", allowed),
	))
	if !allowed {
		m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
			attribute.String("limiter_type", limiter),
		))
	}
}

// RecordRateLimitStoreError records a failed store call; the request was admitted
func (m *Metrics) RecordRateLimitStoreError(ctx context.Context, limiter string) {
	if m == nil {
		return
	}
	m.RateLimitStoreErrs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter", limiter),
	))
}

// RecordCacheLookup records a cache lookup; result is "hit" or "miss"
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordCacheStore records a response written to the cache
func (m *Metrics) RecordCacheStore(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheStores.Add(ctx, 1)
}

// RecordCacheInvalidation records entries removed after a write
func (m *Metrics) RecordCacheInvalidation(ctx context.Context, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.CacheInvalidations.Add(ctx, int64(removed))
}

// RecordCacheSweep records entries removed by the background sweeper
func (m *Metrics) RecordCacheSweep(ctx context.Context, removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.CacheSwept.Add(ctx, int64(removed))
}

// RecordAuditEvent records the outcome of an audit event.
// outcome is one of "written", "failed", "dropped".
func (m *Metrics) RecordAuditEvent(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordAuditWrite records the duration of an audit store append
func (m *Metrics) RecordAuditWrite(ctx context.Context, durationMs float64) {
	if m == nil {
		return
	}
	m.AuditWriteDuration.Record(ctx, durationMs)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
