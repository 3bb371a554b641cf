// Package database provides a GORM-backed [storage.AuditStore] for PostgreSQL and SQLite.
//
// Audit records are written to the audit_logs table with a single INSERT per
// record. The store never reads, updates, or deletes rows; retention and
// reporting belong to whatever owns the database.
//
// # Usage
//
//	store, err := database.Open(database.Config{
//	    Driver:      database.DriverPostgres,
//	    DSN:         "host=db user=audit dbname=supply sslmode=require",
//	    AutoMigrate: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// For tests and single-node deployments use DriverSQLite with a file path or
// "file::memory:?cache=shared".
package database
