// Package sqlite is an embedded storage backend for single-node deployments
// and local development. It implements the same repositories as the
// PostgreSQL implementations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/groupspend/groupspend/internal/platform/db"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	dateLayout      = "2006-01-02"
)

// Store owns the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("storage/sqlite: open: %w", err)
	}
	// SQLite allows a single writer; one connection keeps transactions serial.
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage/sqlite: ping: %w", err)
	}
	if err := db.MigrateSQLite(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Store{db: conn}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Receipts returns the receipt repository.
func (s *Store) Receipts() *Receipts { return &Receipts{db: s.db} }

// Groups returns the group repository.
func (s *Store) Groups() *Groups { return &Groups{db: s.db} }

// Expenses returns the expense repository.
func (s *Store) Expenses() *Expenses { return &Expenses{db: s.db} }

func withTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage/sqlite: bad timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage/sqlite: bad date %q: %w", value, err)
	}
	return t, nil
}
