package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/scmhub/apiguard/internal/util"
	"github.com/scmhub/apiguard/storage"
)

const (
	// DriverPostgres selects gorm.io/driver/postgres
	DriverPostgres = "postgres"

	// DriverSQLite selects gorm.io/driver/sqlite
	DriverSQLite = "sqlite"

	// maxUserAgentLength matches the audit_logs.user_agent column size
	maxUserAgentLength = 512

	// maxIPAddressLength matches the audit_logs.ip_address column size
	maxIPAddressLength = 64
)

// Config holds configuration for the audit database.
type Config struct {
	// Driver is "postgres" or "sqlite" (required)
	Driver string

	// DSN is the driver-specific data source name (required)
	DSN string

	// AutoMigrate creates or updates the audit_logs table on Open
	AutoMigrate bool

	// LogQueries enables GORM's query logger
	LogQueries bool

	// MaxOpenConns limits open connections (default 10)
	MaxOpenConns int

	// MaxIdleConns limits idle connections (default 5)
	MaxIdleConns int

	// ConnMaxLifetime bounds connection reuse (default 1 hour)
	ConnMaxLifetime time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store appends audit records through GORM.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.AuditStore = (*Store)(nil)

// Open connects to the audit database described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	gormLogger := logger.Default
	if !cfg.LogQueries {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&AuditLog{}); err != nil {
			return nil, fmt.Errorf("failed to migrate audit_logs: %w", err)
		}
	}

	log.Info("Connected to audit database", "driver", cfg.Driver, "auto_migrate", cfg.AutoMigrate)

	return &Store{db: db, logger: log}, nil
}

// NewWithDB wraps an existing GORM handle. The caller owns its lifecycle.
func NewWithDB(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB returns the underlying GORM handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Close()
}

// AppendAuditRecord inserts a single audit row
func (s *Store) AppendAuditRecord(ctx context.Context, record *storage.AuditRecord) error {
	if err := storage.ValidateAuditRecord(record); err != nil {
		return err
	}

	row, err := toAuditLog(record)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func toAuditLog(record *storage.AuditRecord) (*AuditLog, error) {
	details := "{}"
	if len(record.Details) > 0 {
		data, err := json.Marshal(record.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit details: %w", err)
		}
		details = string(data)
	}

	return &AuditLog{
		ID:        record.ID,
		UserID:    optional(strings.ToValidUTF8(record.UserID, "")),
		CompanyID: optional(strings.ToValidUTF8(record.CompanyID, "")),
		Action:    strings.ToValidUTF8(record.Action, ""),
		IPAddress: util.SafeTruncate(record.IPAddress, maxIPAddressLength),
		UserAgent: util.SafeTruncate(record.UserAgent, maxUserAgentLength),
		Success:   record.Success,
		Details:   details,
		Timestamp: record.Timestamp.UTC(),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
