package security

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/scmhub/apiguard/instrumentation"
	"github.com/scmhub/apiguard/storage"
)

const (
	// DefaultAuditQueueSize is the number of records buffered before new ones are dropped
	DefaultAuditQueueSize = 1024

	// DefaultAuditWorkers is the number of goroutines writing to the store
	DefaultAuditWorkers = 2

	// DefaultAuditWriteTimeout bounds a single store append
	DefaultAuditWriteTimeout = 5 * time.Second

	// DefaultAuditErrorLogRate is how many failure reports per second reach the log
	DefaultAuditErrorLogRate = rate.Limit(1)

	// UnknownUserAgent is recorded when the request carries no User-Agent
	UnknownUserAgent = "Unknown"

	// DetailRequestID is the details key carrying the request's X-Request-ID
	DetailRequestID = "requestId"
)

// AuditorConfig configures the audit pipeline
type AuditorConfig struct {
	// Enabled turns recording on. A disabled auditor accepts and discards events.
	Enabled bool

	// QueueSize is the capacity of the pending record queue (default 1024)
	QueueSize int

	// Workers is the number of concurrent writers (default 2)
	Workers int

	// WriteTimeout bounds each store append (default 5s)
	WriteTimeout time.Duration

	// ErrorLogRate limits failure reports per second (default 1)
	ErrorLogRate rate.Limit

	// TrustProxy and TrustedProxyCount control client IP extraction in the
	// request-based wrappers (see GetClientIP)
	TrustProxy        bool
	TrustedProxyCount int
}

// DefaultAuditorConfig returns an enabled config with default sizing
func DefaultAuditorConfig() AuditorConfig {
	return AuditorConfig{
		Enabled:      true,
		QueueSize:    DefaultAuditQueueSize,
		Workers:      DefaultAuditWorkers,
		WriteTimeout: DefaultAuditWriteTimeout,
		ErrorLogRate: DefaultAuditErrorLogRate,
	}
}

func (c *AuditorConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultAuditQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultAuditWorkers
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultAuditWriteTimeout
	}
	if c.ErrorLogRate <= 0 {
		c.ErrorLogRate = DefaultAuditErrorLogRate
	}
}

// AuditEvent is what callers submit. The auditor assigns the record ID and timestamp.
//
// Details is stored as-is. Strip passwords, tokens, and codes before logging.
type AuditEvent struct {
	UserID    string
	CompanyID string
	Action    string
	IPAddress string
	UserAgent string
	Success   bool
	Details   map[string]any
}

type pendingRecord struct {
	ctx    context.Context
	record *storage.AuditRecord
}

// Auditor writes audit records asynchronously and never fails the caller.
//
// Log enqueues onto a bounded queue and returns immediately. Workers append
// records to the store using a context detached from the request, so a
// client disconnect does not abort the write. When the queue is full the
// record is dropped. Store errors and panics are reported through the
// operational logger at a throttled rate and are otherwise swallowed.
type Auditor struct {
	store   storage.AuditStore
	cfg     AuditorConfig
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
	now     Clock

	queue chan pendingRecord
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	errLimiter *rate.Limiter
	suppressed atomic.Int64
	dropped    atomic.Int64
	written    atomic.Int64
	failed     atomic.Int64
}

// NewAuditor creates an auditor and starts its workers.
// A nil store yields a disabled auditor.
func NewAuditor(store storage.AuditStore, cfg AuditorConfig, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	if store == nil && cfg.Enabled {
		logger.Warn("No audit store configured, audit logging disabled")
		cfg.Enabled = false
	}

	a := &Auditor{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		now:        systemClock,
		errLimiter: rate.NewLimiter(cfg.ErrorLogRate, 1),
	}

	if !cfg.Enabled {
		a.closed = true
		return a
	}

	a.queue = make(chan pendingRecord, cfg.QueueSize)
	for range cfg.Workers {
		a.wg.Add(1)
		go a.worker()
	}

	logger.Debug("Audit logger started",
		"queue_size", cfg.QueueSize,
		"workers", cfg.Workers,
		"write_timeout", cfg.WriteTimeout)

	return a
}

// SetInstrumentation enables audit metrics and spans
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	a.metrics = inst.Metrics()
	a.tracer = inst.Tracer("audit")

	if err := inst.RegisterSizeCallbacks(nil, nil, func() int64 { return int64(a.QueueDepth()) }); err != nil {
		a.logger.Warn("Failed to register audit queue callback", "error", err)
	}
}

// SetClock replaces the timestamp source. Call before the first Log.
func (a *Auditor) SetClock(c Clock) {
	a.now = clockOrDefault(c)
}

// Enabled reports whether events are recorded
func (a *Auditor) Enabled() bool {
	return a.cfg.Enabled
}

// Log submits an event. It never blocks on I/O and never returns an error.
func (a *Auditor) Log(ctx context.Context, event AuditEvent) {
	if !a.cfg.Enabled {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	record := &storage.AuditRecord{
		ID:        uuid.NewString(),
		UserID:    event.UserID,
		CompanyID: event.CompanyID,
		Action:    event.Action,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Success:   event.Success,
		Details:   event.Details,
		Timestamp: a.now().UTC(),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(ctx, record, "closed")
		return
	}

	select {
	case a.queue <- pendingRecord{ctx: context.WithoutCancel(ctx), record: record}:
	default:
		a.drop(ctx, record, "queue_full")
	}
}

// drop accounts for a record that will never be written
func (a *Auditor) drop(ctx context.Context, record *storage.AuditRecord, reason string) {
	a.dropped.Add(1)
	a.metrics.RecordAuditEvent(ctx, record.Action, "dropped")
	a.reportFailure("Audit record dropped",
		"action", record.Action,
		"reason", reason,
		"total_dropped", a.dropped.Load())
}

func (a *Auditor) worker() {
	defer a.wg.Done()
	for pending := range a.queue {
		a.write(pending)
	}
}

// write appends one record; panics from the store are contained here
func (a *Auditor) write(pending pendingRecord) {
	ctx, cancel := context.WithTimeout(pending.ctx, a.cfg.WriteTimeout)
	defer cancel()

	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "audit.write")
		defer span.End()
	}

	record := pending.record
	startTime := time.Now()

	err := a.appendSafely(ctx, record)

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000.0
	a.metrics.RecordAuditWrite(ctx, durationMs)
	instrumentation.AddAuditAttributes(span, record.Action, record.UserID, record.CompanyID, record.Success)

	if err != nil {
		a.failed.Add(1)
		a.metrics.RecordAuditEvent(ctx, record.Action, "failed")
		instrumentation.RecordError(span, err)
		a.reportFailure("Failed to write audit record",
			"action", record.Action,
			"record_id", record.ID,
			"error", err)
		return
	}

	a.written.Add(1)
	a.metrics.RecordAuditEvent(ctx, record.Action, "written")
	instrumentation.SetSpanSuccess(span)
}

func (a *Auditor) appendSafely(ctx context.Context, record *storage.AuditRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit store panic: %v", r)
		}
	}()
	return a.store.AppendAuditRecord(ctx, record)
}

// reportFailure logs at most ErrorLogRate failures per second and carries the
// number of suppressed reports on the next one that gets through
func (a *Auditor) reportFailure(msg string, args ...any) {
	if !a.errLimiter.Allow() {
		a.suppressed.Add(1)
		return
	}
	if n := a.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	a.logger.Error(msg, args...)
}

// QueueDepth returns the number of records waiting to be written
func (a *Auditor) QueueDepth() int {
	if a.queue == nil {
		return 0
	}
	return len(a.queue)
}

// AuditStats holds pipeline counters for health reporting
type AuditStats struct {
	Written    int64 `json:"written"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	QueueDepth int   `json:"queue_depth"`
}

// Stats returns a snapshot of the pipeline counters
func (a *Auditor) Stats() AuditStats {
	return AuditStats{
		Written:    a.written.Load(),
		Failed:     a.failed.Load(),
		Dropped:    a.dropped.Load(),
		QueueDepth: a.QueueDepth(),
	}
}

// Close stops accepting events and waits until queued records are written or
// ctx is done. Events logged after Close are dropped. Safe to call more than once.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted with %d records pending: %w", a.QueueDepth(), ctx.Err())
	}
}

// ============================================================
// Request-scoped wrappers
// ============================================================

// RequestInfo extracts the client IP and user agent recorded with an event.
// IP falls back to RemoteAddr and the user agent to "Unknown".
func RequestInfo(r *http.Request, trustProxy bool, trustedProxyCount int) (ip, userAgent string) {
	if r == nil {
		return "", UnknownUserAgent
	}
	ip = GetClientIP(r, trustProxy, trustedProxyCount)
	userAgent = r.UserAgent()
	if userAgent == "" {
		userAgent = UnknownUserAgent
	}
	return ip, userAgent
}

// logRequest fills IP, user agent and request ID from r and submits the event
func (a *Auditor) logRequest(r *http.Request, event AuditEvent) {
	if !a.cfg.Enabled {
		return
	}
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	event.IPAddress, event.UserAgent = RequestInfo(r, a.cfg.TrustProxy, a.cfg.TrustedProxyCount)
	if requestID := GetRequestID(ctx); requestID != "" {
		event.Details = withDetails(event.Details, map[string]any{DetailRequestID: requestID})
	}
	a.Log(ctx, event)
}

// withDetails returns a copy of details with extra merged in; extra wins
func withDetails(details map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(details)+len(extra))
	maps.Copy(out, details)
	maps.Copy(out, extra)
	return out
}

// LogAuth records LOGIN, LOGOUT, LOGIN_FAILED, REGISTER and TOKEN_REFRESH events
func (a *Auditor) LogAuth(r *http.Request, userID, companyID, action string, success bool, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: success, Details: details})
}

// LogSSO records single sign-on events
func (a *Auditor) LogSSO(r *http.Request, userID, companyID, action string, success bool, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: success, Details: details})
}

// LogTwoFactor records 2FA enrolment, verification, and backup code events
func (a *Auditor) LogTwoFactor(r *http.Request, userID, companyID, action string, success bool, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: success, Details: details})
}

// LogBilling records subscription and payment events
func (a *Auditor) LogBilling(r *http.Request, userID, companyID, action string, success bool, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: success, Details: details})
}

// LogWhiteLabel records branding configuration changes
func (a *Auditor) LogWhiteLabel(r *http.Request, userID, companyID, action string, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: true, Details: details})
}

// LogDataAccess records a view, create, update, delete, or export of a resource
func (a *Auditor) LogDataAccess(r *http.Request, userID, companyID string, op DataOp, resource, resourceID string, details map[string]any) {
	extra := map[string]any{"operation": string(op), "resource": resource}
	if resourceID != "" {
		extra["resourceId"] = resourceID
	}
	a.logRequest(r, AuditEvent{
		UserID:    userID,
		CompanyID: companyID,
		Action:    op.Action(),
		Success:   true,
		Details:   withDetails(details, extra),
	})
}

// LogSecurity records password changes, lockouts, and suspicious activity
func (a *Auditor) LogSecurity(r *http.Request, userID, companyID, action string, success bool, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: success, Details: details})
}

// LogAdmin records administrative actions performed by userID
func (a *Auditor) LogAdmin(r *http.Request, userID, companyID, action string, details map[string]any) {
	a.logRequest(r, AuditEvent{UserID: userID, CompanyID: companyID, Action: action, Success: true, Details: details})
}

// LogAPICall records the outcome of an API request
func (a *Auditor) LogAPICall(r *http.Request, userID, companyID string, statusCode int, duration time.Duration) {
	details := map[string]any{
		"statusCode": statusCode,
		"durationMs": duration.Milliseconds(),
	}
	if r != nil {
		details["method"] = r.Method
		details["path"] = r.URL.Path
	}
	a.logRequest(r, AuditEvent{
		UserID:    userID,
		CompanyID: companyID,
		Action:    EventAPICall,
		Success:   statusCode < http.StatusBadRequest,
		Details:   details,
	})
}

// LogError records an error raised while serving r
func (a *Auditor) LogError(r *http.Request, userID, companyID string, err error) {
	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	}
	if r != nil {
		details["method"] = r.Method
		details["path"] = r.URL.Path
	}
	a.logRequest(r, AuditEvent{
		UserID:    userID,
		CompanyID: companyID,
		Action:    EventError,
		Success:   false,
		Details:   details,
	})
}
