// Package sqlitestore keeps the pipeline's tables in a single SQLite file.
// Decimals are stored as canonical text and times as RFC 3339 UTC text, so
// values round-trip exactly and sort lexically.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketdata-etl/internal/domain"
	infraconfig "marketdata-etl/internal/infrastructure/config"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	timeLayout = time.RFC3339
	dateLayout = time.DateOnly
)

type DB struct {
	SQL  *sql.DB
	Path string
	// Now stamps updated_at columns. Nil means time.Now.
	Now func() time.Time
}

// DSN builds a modernc.org/sqlite data source name for a database file.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		path, infraconfig.DefaultSQLiteBusy.Milliseconds())
}

func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" || path == ":memory:" {
		return nil, fmt.Errorf("%w: sqlite needs a file path", domain.ErrInvalidConfig)
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(infraconfig.DefaultPGIdleTime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{SQL: db, Path: path}, nil
}

func (d *DB) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *DB) Close()                         { _ = d.SQL.Close() }
func (d *DB) Ping(ctx context.Context) error { return d.SQL.PingContext(ctx) }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) conn(ctx context.Context) querier {
	if tx := txFromCtx(ctx); tx != nil {
		return tx
	}
	return d.SQL
}

func rejected(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func classify(op string, err error) error {
	if rejected(err) {
		return fmt.Errorf("%w: %s: %w", domain.ErrRecordRejected, op, err)
	}
	return domain.StorageError(op, err)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func nullTime(t time.Time, layout string) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(layout)
}
