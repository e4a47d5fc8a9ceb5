// Package database opens the relational store shared by the repositories and
// applies the embedded schema.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB carries the driver name so queries written with $N placeholders can be
// rebound for SQLite.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the configured store. For SQLite, url is a file path or
// ":memory:".
func Open(driver, url string) (*DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "", DriverSQLite, "sqlite3":
		return openSQLite(url)
	case DriverPostgres, "postgresql":
		db, err := sql.Open(DriverPostgres, url)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database is unreachable: %w", err)
		}
		return &DB{DB: db, Driver: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}
}

func openSQLite(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}
	return &DB{DB: db, Driver: DriverSQLite}, nil
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// Rebind converts $N placeholders into the driver's numbered form.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?$1")
}

// Millis converts t to the Unix-millisecond representation used in every
// timestamp column. The zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis. Results are in UTC.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
