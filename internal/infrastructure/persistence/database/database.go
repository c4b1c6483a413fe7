// Package database provides the core functionality for creating and managing
// database connections in a clean, isolated manner.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-leads/pkg/config"
)

const (
	DriverSQLite   = "sqlite3"
	DriverLibSQL   = "libsql"
	DriverPostgres = "postgres"
)

// SlowQueryThreshold is the duration past which connection setup is logged as slow.
const SlowQueryThreshold = 100 * time.Millisecond

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	Driver string
}

// NewConnection establishes a new database connection for the specified driver.
func NewConnection(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if driverName == DriverSQLite && strings.Contains(dataSourceName, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, Driver: driverName}, nil
}

// Open resolves the journal configuration to a driver and connects. A Turso
// URL selects libsql, otherwise Driver decides.
func Open(cfg config.JournalConfig, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	driver, dsn := resolve(cfg)
	logger.Database().Debug("Creating new database connection", "driverName", driver)

	if driver == DriverSQLite && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
	}

	db, err := NewConnection(driver, dsn)
	if err != nil {
		logger.Database().Error("Failed to open database connection", "error", err.Error(), "driverName", driver)
		return nil, fmt.Errorf("open %s journal: %w", driver, err)
	}

	duration := time.Since(start)
	logger.Database().Info("Database connection established", "driverName", driver, "duration", duration)
	if duration > SlowQueryThreshold {
		logger.Database().Warn("Slow database connection", "driverName", driver, "duration", duration)
	}
	return db, nil
}

func resolve(cfg config.JournalConfig) (driver, dsn string) {
	if cfg.TursoURL != "" {
		return DriverLibSQL, cfg.TursoURL + "?authToken=" + cfg.TursoToken
	}
	if cfg.Driver == "" {
		return DriverSQLite, cfg.DSN
	}
	return cfg.Driver, cfg.DSN
}

// Rebind rewrites ? placeholders to $n for postgres.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
