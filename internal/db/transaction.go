package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy bounds how writes are retried while SQLite reports the
// database busy or locked.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Backoff is the delay before the second try. It doubles after each
	// further failure.
	Backoff time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = defaults.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = defaults.Backoff
	}
	return p
}

// delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	return p.Backoff << (attempt - 1)
}

// RetryTransaction runs fn in a transaction under the database's retry
// policy. Each attempt gets a fresh transaction.
func (db *DB) RetryTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.retryBusy(ctx, func() error {
		return db.Transaction(ctx, fn)
	})
}

func (db *DB) retryBusy(ctx context.Context, fn func() error) error {
	policy := db.retry
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !isBusy(err) || attempt >= policy.Attempts {
			return err
		}

		wait := policy.delay(attempt)
		db.logger.Debug().Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("database busy, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes. Errors that lost the driver type are matched on
// SQLite's message text.
func isBusy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	message := err.Error()
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked")
}
