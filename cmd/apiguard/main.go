// Command apiguard runs a demo API behind the apiguard middleware chain.
//
// Configuration is read from apiguard.yaml (or -config) and APIGUARD_*
// environment variables. Rate limits and cached responses use the memory or
// valkey backend; audit records go to memory, postgres, or sqlite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scmhub/apiguard"
	"github.com/scmhub/apiguard/security"
	"github.com/scmhub/apiguard/storage"
	"github.com/scmhub/apiguard/storage/database"
	"github.com/scmhub/apiguard/storage/memory"
	"github.com/scmhub/apiguard/storage/valkey"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "apiguard:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	stores, closeStores, err := openStores(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	guard, err := apiguard.NewServer(stores, cfg.guardConfig(), logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	registerRoutes(mux, guard)
	mux.Handle("/healthz", guard.HealthHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Listen, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	return guard.Shutdown(shutdownCtx)
}

// openStores builds the storage backends and returns a func that releases them
func openStores(cfg storageConfig, logger *slog.Logger) (apiguard.Stores, func(), error) {
	var (
		stores  apiguard.Stores
		closers []func()
		mem     *memory.Store
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	memoryStore := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
			mem.SetLogger(logger)
		}
		return mem
	}

	switch cfg.Backend {
	case "memory":
		stores.RateLimits = memoryStore()
		stores.Cache = memoryStore()
	case "valkey":
		vs, err := valkey.New(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return stores, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		closers = append(closers, vs.Close)
		stores.RateLimits = vs
		stores.Cache = vs
	default:
		return stores, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	var audit storage.AuditStore
	switch cfg.Audit {
	case "memory":
		audit = memoryStore()
	case database.DriverPostgres, database.DriverSQLite:
		db, err := database.Open(database.Config{
			Driver:      cfg.Audit,
			DSN:         cfg.DSN,
			AutoMigrate: true,
			Logger:      logger,
		})
		if err != nil {
			closeAll()
			return stores, nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close audit database", "error", err)
			}
		})
		audit = db
	default:
		closeAll()
		return stores, nil, fmt.Errorf("unknown audit store %q", cfg.Audit)
	}
	stores.Audit = audit

	return stores, closeAll, nil
}

// registerRoutes mounts a small demo API, one route group per limiter class
func registerRoutes(mux *http.ServeMux, guard *apiguard.Server) {
	products := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
		case http.MethodPost:
			writeJSON(w, http.StatusCreated, map[string]any{"success": true})
		default:
			apiguard.WriteError(w, r, apiguard.ErrInvalidRequest("Method not allowed"))
		}
	})

	login := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			apiguard.WriteError(w, r, apiguard.ErrInvalidRequest("Method not allowed"))
			return
		}
		guard.Auditor.LogAuth(r, "", "", security.EventLoginFailed, false,
			map[string]any{"reason": "demo endpoint"})
		apiguard.WriteError(w, r, apiguard.ErrUnauthorized("Invalid credentials"))
	})

	exportData := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guard.Auditor.LogDataAccess(r, "", "", security.DataExport, "products", "", nil)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	})

	mux.Handle("/api/products", guard.Handler(security.LimitAPI, products))
	mux.Handle("/auth/login", guard.Handler(security.LimitAuth, login))
	mux.Handle("/api/export", guard.Handler(security.LimitStrict, exportData))
	mux.Handle("/webhooks/payments", guard.Handler(security.LimitWebhook, webhook))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
