// Package database opens the local store connection and classifies driver errors.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	// Drivers selectable through Config.Driver.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	// DriverPostgres uses github.com/lib/pq.
	DriverPostgres = "postgres"
	// DriverSQLite uses modernc.org/sqlite (pure Go).
	DriverSQLite = "sqlite"
	// DriverSQLite3 uses github.com/mattn/go-sqlite3 (cgo).
	DriverSQLite3 = "sqlite3"
)

const defaultConnectTimeout = 10 * time.Second

// Config describes a local store connection.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DetectDriver guesses the driver from a DSN when none is configured.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// IsSQLite reports whether driver is one of the SQLite drivers.
func IsSQLite(driver string) bool {
	return driver == DriverSQLite || driver == DriverSQLite3
}

// Open opens and pings the database described by cfg. It returns the
// resolved driver name alongside the handle.
func Open(ctx context.Context, cfg Config) (*sql.DB, string, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, "", NewConnectionError("empty DSN", nil)
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.DSN)
	}
	switch driver {
	case DriverPostgres, DriverSQLite, DriverSQLite3:
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", driver)
	}

	if IsSQLite(driver) {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, "", NewConnectionError("creating database directory", err)
		}
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, "", NewConnectionError("opening database", err)
	}

	if IsSQLite(driver) {
		// One connection keeps in-memory databases and per-connection
		// pragmas consistent and avoids SQLITE_BUSY between writers.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", ClassifyDatabaseError(err, driver, "connect", "", 0)
	}

	if IsSQLite(driver) {
		if err := sqlitePragmas(pingCtx, db, cfg.DSN); err != nil {
			_ = db.Close()
			return nil, "", err
		}
	}

	return db, driver, nil
}

func sqlitePragmas(ctx context.Context, db *sql.DB, dsn string) error {
	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if !isMemoryDSN(dsn) {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return ClassifyDatabaseError(err, DriverSQLite, "pragma", p, 0)
		}
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func ensureSQLiteDir(dsn string) error {
	if isMemoryDSN(dsn) {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// FormatPlaceholder returns the n-th (1-based) bind placeholder for driver.
func FormatPlaceholder(driver string, n int) string {
	if driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count placeholders starting at position start, joined by commas.
func Placeholders(driver string, start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = FormatPlaceholder(driver, start+i)
	}
	return strings.Join(parts, ", ")
}
