package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes inspected by repositories.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
)

// Beginner is implemented by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx runs fn in a read-write RepeatableRead transaction.
func WithTx(ctx context.Context, b Beginner, fn func(pgx.Tx) error) error {
	return WithTxOptions(ctx, b, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithTxOptions commits when fn returns nil and rolls back on an error or a
// panic, which is re-raised after the rollback.
func WithTxOptions(ctx context.Context, b Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) (err error) {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback uses its own context so a cancelled ctx still releases the connection.
		rbErr := tx.Rollback(context.WithoutCancel(ctx))
		if p := recover(); p != nil {
			panic(p)
		}
		if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("platform/db: rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit: %w", err)
	}
	committed = true
	return nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique constraint error.
func IsUniqueViolation(err error) bool { return sqlState(err) == codeUniqueViolation }

// IsSerializationFailure reports a RepeatableRead conflict the caller may retry.
func IsSerializationFailure(err error) bool { return sqlState(err) == codeSerializationFailure }
