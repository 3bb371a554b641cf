package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "apiguard"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// MetricsExporterNone keeps metrics in-process only (SDK provider without a reader)
	MetricsExporterNone = "none"

	// MetricsExporterPrometheus registers an OpenTelemetry Prometheus exporter on
	// Config.Registerer, or the default registerer. Serve it with promhttp.Handler().
	MetricsExporterPrometheus = "prometheus"

	scopePrefix = "github.com/scmhub/apiguard/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (default "apiguard")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active
	// When false, uses no-op providers (zero overhead)
	Enabled bool

	// MetricsExporter selects where metrics go when Enabled is true.
	// Supported: "" or "none", "prometheus".
	MetricsExporter string

	// LogClientIPs controls whether client IP addresses are attached to spans.
	// Client IPs may be PII under GDPR; leave false unless required.
	LogClientIPs bool

	// Registerer receives the Prometheus collector when MetricsExporter is
	// "prometheus". Default: prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders creates SDK meter and tracer providers.
// Spans are sampled but not exported; a span exporter can be added by passing a
// custom TracerProvider through otel.SetTracerProvider in the host process.
func (i *Instrumentation) initializeProviders() error {
	opts := []sdkmetric.Option{sdkmetric.WithResource(i.resource)}

	switch i.config.MetricsExporter {
	case "", MetricsExporterNone:
	case MetricsExporterPrometheus:
		reg := i.config.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	i.meterProvider = mp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)

	return nil
}

// Shutdown flushes and stops the SDK providers. Every provider is shut down
// even if an earlier one fails; the errors are joined.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}

// Meter returns a named meter for the given scope
// Scopes are layer names like "http", "security", "cache", "storage", "audit"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs returns whether client IP addresses should be logged
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// SizeCallback is a function that returns the current size of a component
type SizeCallback func() int64

// RegisterSizeCallbacks registers callbacks for the observable gauges.
// Any callback may be nil.
//
// Example:
//
//	inst.RegisterSizeCallbacks(
//	    func() int64 { return int64(store.RateLimitCount()) },
//	    func() int64 { return int64(store.CacheCount()) },
//	    func() int64 { return int64(auditor.QueueDepth()) },
//	)
func (i *Instrumentation) RegisterSizeCallbacks(rateLimitEntries, cacheEntries, auditQueueDepth SizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if rateLimitEntries != nil {
				observer.ObserveInt64(i.metrics.StorageRateLimitEntries, rateLimitEntries())
			}
			if cacheEntries != nil {
				observer.ObserveInt64(i.metrics.StorageCacheEntries, cacheEntries())
			}
			if auditQueueDepth != nil {
				observer.ObserveInt64(i.metrics.AuditQueueDepth, auditQueueDepth())
			}
			return nil
		},
		i.metrics.StorageRateLimitEntries,
		i.metrics.StorageCacheEntries,
		i.metrics.AuditQueueDepth,
	)

	return err
}
