// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

// Package store persists the plugin transition journal in PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Error codes returned by this package.
const (
	CodeConnectFailed = "STORE_CONNECT_FAILED"
	CodeAppendFailed  = "JOURNAL_APPEND_FAILED"
	CodeQueryFailed   = "JOURNAL_QUERY_FAILED"
)

// poolIface is the subset of pgxpool.Pool the store uses. pgxmock
// implements it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ poolIface = (*pgxpool.Pool)(nil)

// DefaultBackoff is the retry policy for connecting and for journal
// writes that fail with a transient error.
func DefaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(4, retry.NewExponential(50*time.Millisecond))
}

// Open connects a pool to dsn, retrying while the server is unreachable.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("store").Code(CodeConnectFailed).Wrapf(err, "invalid database url")
	}

	err = retry.Do(ctx, DefaultBackoff(), func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			if transient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.In("store").Code(CodeConnectFailed).Wrapf(err, "failed to connect to database")
	}
	return pool, nil
}

// transient reports whether err is worth retrying: lost connections,
// serialization failures, deadlocks and server restarts.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsTransactionRollback(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code) ||
			pgErr.Code == pgerrcode.TooManyConnections
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) || pgconn.SafeToRetry(err)
}

func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
