package apiguard

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/scmhub/apiguard/security"
)

// MemoryStats is the subset of runtime.MemStats reported by the health endpoint
type MemoryStats struct {
	AllocBytes     uint64 `json:"alloc_bytes"`
	HeapInuseBytes uint64 `json:"heap_inuse_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
	Goroutines     int    `json:"goroutines"`
}

// HealthStatus is the body served by HealthHandler
type HealthStatus struct {
	Status           string              `json:"status"`
	Timestamp        string              `json:"timestamp"`
	UptimeSeconds    int64               `json:"uptime_seconds"`
	RateLimitEntries *int                `json:"rate_limit_entries,omitempty"`
	CacheEntries     *int                `json:"cache_entries,omitempty"`
	Audit            security.AuditStats `json:"audit"`
	Memory           MemoryStats         `json:"memory"`
}

type rateLimitCounter interface {
	RateLimitCount() int
}

type cacheCounter interface {
	CacheCount() int
}

func readMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:     m.Alloc,
		HeapInuseBytes: m.HeapInuse,
		SysBytes:       m.Sys,
		NumGC:          m.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
}

// Health returns the current health snapshot. Store sizes are included when
// the store can report them cheaply (the memory store does).
func (s *Server) Health() HealthStatus {
	h := HealthStatus{
		Status:        "ok",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Audit:         s.Auditor.Stats(),
		Memory:        readMemoryStats(),
	}
	if c, ok := s.stores.RateLimits.(rateLimitCounter); ok {
		n := c.RateLimitCount()
		h.RateLimitEntries = &n
	}
	if c, ok := s.stores.Cache.(cacheCounter); ok {
		n := c.CacheCount()
		h.CacheEntries = &n
	}
	if h.Audit.Dropped > 0 || h.Audit.Failed > 0 {
		h.Status = "degraded"
	}
	return h
}

// HealthHandler serves Health as JSON. A degraded audit pipeline still
// returns 200 because audit failures never affect request handling.
func (s *Server) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(s.Health())
	})
}

// monitorLoop logs memory statistics every interval until Shutdown
func (s *Server) monitorLoop(interval time.Duration) {
	defer close(s.healthDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := readMemoryStats()
			s.logger.Info("Memory statistics",
				"alloc_mb", m.AllocBytes/1024/1024,
				"heap_inuse_mb", m.HeapInuseBytes/1024/1024,
				"sys_mb", m.SysBytes/1024/1024,
				"num_gc", m.NumGC,
				"goroutines", m.Goroutines,
				"audit_queue_depth", s.Auditor.QueueDepth())
		case <-s.healthStop:
			return
		}
	}
}
