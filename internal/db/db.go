// Package db provides SQLite access for the message tables behind the
// client range cache and the simulated server, plus the event log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tOgg1/topicindex/internal/logging"
)

const driverName = "sqlite"

// DB wraps a SQLite handle.
type DB struct {
	*sql.DB
	dsn    string
	retry  RetryPolicy
	logger zerolog.Logger
}

// Config contains connection settings.
type Config struct {
	// DSN is the SQLite data source name. Empty means a private in-memory database.
	DSN string

	// BusyTimeoutMs is how long to wait for a locked database.
	BusyTimeoutMs int

	// Retry governs RetryTransaction. Zero fields take DefaultRetryPolicy.
	Retry RetryPolicy
}

// Open opens a database using cfg.
func Open(cfg Config) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" || dsn == ":memory:" {
		return openInMemory(cfg.Retry)
	}
	if cfg.BusyTimeoutMs > 0 && !strings.Contains(dsn, "busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, cfg.BusyTimeoutMs)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return newDB(sqlDB, dsn, cfg.Retry), nil
}

// OpenInMemory opens a private in-memory database with the default retry
// policy. The pool is pinned to a single connection because every SQLite
// :memory: connection is a separate database.
func OpenInMemory() (*DB, error) {
	return openInMemory(RetryPolicy{})
}

func openInMemory(retry RetryPolicy) (*DB, error) {
	sqlDB, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return newDB(sqlDB, ":memory:", retry), nil
}

func newDB(sqlDB *sql.DB, dsn string, retry RetryPolicy) *DB {
	return &DB{
		DB:     sqlDB,
		dsn:    dsn,
		retry:  retry.withDefaults(),
		logger: logging.Component("db"),
	}
}

// DSN returns the data source name the database was opened with.
func (db *DB) DSN() string {
	return db.dsn
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id        INTEGER PRIMARY KEY,
		stream_id INTEGER NOT NULL,
		topic     TEXT    NOT NULL,
		topic_key TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_stream_topic ON messages (stream_id, topic_key, id)`,
	`CREATE TABLE IF NOT EXISTS events (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT    NOT NULL UNIQUE,
		timestamp   TEXT    NOT NULL,
		type        TEXT    NOT NULL,
		entity_type TEXT    NOT NULL,
		stream_id   INTEGER NOT NULL,
		topic       TEXT    NOT NULL DEFAULT '',
		payload     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_stream ON events (stream_id, seq)`,
}

// MigrateUp applies pending schema migrations and returns how many ran.
func (db *DB) MigrateUp(ctx context.Context) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	applied := 0
	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d: %w", version, err)
		}
		applied++
	}
	return applied, nil
}

// Transaction runs fn inside a transaction, committing on success.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
