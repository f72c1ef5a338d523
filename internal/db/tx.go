package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx exécute une fonction dans une transaction explicite.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// WithTxRetry relance la transaction un nombre borné de fois en cas de
// conflit de sérialisation ou de deadlock Postgres.
func WithTxRetry(ctx context.Context, pool *pgxpool.Pool, attempts int, fn func(pctx context.Context, tx pgx.Tx) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = WithTx(ctx, pool, fn)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
