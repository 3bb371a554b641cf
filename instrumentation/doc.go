// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for apiguard.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:        true,
//		ServiceName:    "supply-api",
//		ServiceVersion: "1.4.2",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Prometheus Metrics
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
// HTTP Layer:
//   - apiguard.http.requests.total{method, endpoint, status}
//   - apiguard.http.request.duration{method, endpoint}
//
// Rate Limiting:
//   - apiguard.ratelimit.decisions{limiter, allowed}
//   - apiguard.ratelimit.exceeded{limiter_type}
//   - apiguard.ratelimit.store_errors{limiter}
//
// Response Cache:
//   - apiguard.cache.lookups{result}
//   - apiguard.cache.stores, apiguard.cache.invalidations, apiguard.cache.swept
//
// Audit:
//   - apiguard.audit.events{action, outcome}
//   - apiguard.audit.write.duration
//   - apiguard.audit.queue.depth
//
// Storage:
//   - apiguard.storage.operations.total{operation, result}
//   - apiguard.storage.operation.duration{operation}
//   - apiguard.storage.ratelimit.entries, apiguard.storage.cache.entries
//
// When Enabled is false, no-op providers are used and recording has no cost.
package instrumentation
