// SPDX-License-Identifier: Apache-2.0

// Package pgconn adapts a *sql.DB/*sql.Tx into the QueryExecutor capability:
// parameterless and parameterized statement execution, rowset retrieval, and
// explicit transaction boundary management. It owns the sole retry policy in
// the engine, re-attempting statements that fail on lock contention or
// serialization conflicts.
package pgconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"

	"github.com/geocoug/pg-upsert/internal/pgerrors"
)

const (
	lockNotAvailableCode  pq.ErrorCode = "55P03"
	serializationFailCode pq.ErrorCode = "40001"
	maxBackoffDuration                 = 30 * time.Second
	backoffInterval                    = 500 * time.Millisecond
)

// Executor is the QueryExecutor capability. All methods fail with a
// DatabaseError on driver-level failure; the caller decides whether to
// rollback. Executor never auto-commits.
type Executor interface {
	Exec(ctx context.Context, sql string) (sql.Result, error)
	ExecParams(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string) (*sql.Rows, error)
	QueryScalar(ctx context.Context, query string, dest any) error
	Commit() error
	Rollback() error
	Close() error
}

// TxExecutor is an alias of Executor, naming it as the interface usable once
// a transaction has been opened.
type TxExecutor = Executor

// Conn owns a single database session: one open *sql.DB, one open
// transaction, retrying statements that hit lock contention.
type Conn struct {
	db *sql.DB
	tx *sql.Tx
}

// Open opens a new session against dsn and begins its single transaction.
func Open(ctx context.Context, dsn string) (*Conn, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, pgerrors.Database(err, "opening connection")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, pgerrors.Database(err, "pinging database")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, pgerrors.Database(err, "beginning transaction")
	}

	return &Conn{db: db, tx: tx}, nil
}

// FromTx wraps an already-open transaction, for callers that supply a
// pre-opened session (spec §3's "connection parameters OR a pre-opened
// session").
func FromTx(tx *sql.Tx) *Conn {
	return &Conn{tx: tx}
}

func (c *Conn) Exec(ctx context.Context, query string) (sql.Result, error) {
	return c.withRetry(ctx, func() (sql.Result, error) {
		return c.tx.ExecContext(ctx, query)
	})
}

func (c *Conn) ExecParams(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.withRetry(ctx, func() (sql.Result, error) {
		return c.tx.ExecContext(ctx, query, args...)
	})
}

func (c *Conn) Query(ctx context.Context, query string) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		rows, err := c.tx.QueryContext(ctx, query)
		if err == nil {
			return rows, nil
		}
		if isRetryable(err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return nil, pgerrors.Database(werr, "waiting to retry query")
			}
			continue
		}
		return nil, pgerrors.Database(err, "executing query")
	}
}

// QueryScalar executes query, expecting a single row with a single column,
// and scans it into dest.
func (c *Conn) QueryScalar(ctx context.Context, query string, dest any) error {
	rows, err := c.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return pgerrors.Database(err, "reading scalar result")
		}
		return pgerrors.Database(sql.ErrNoRows, "scalar query returned no rows")
	}
	if err := rows.Scan(dest); err != nil {
		return pgerrors.Database(err, "scanning scalar result")
	}
	return rows.Err()
}

func (c *Conn) Commit() error {
	if err := c.tx.Commit(); err != nil {
		return pgerrors.Database(err, "commit")
	}
	return nil
}

func (c *Conn) Rollback() error {
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return pgerrors.Database(err, "rollback")
	}
	return nil
}

func (c *Conn) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Conn) withRetry(ctx context.Context, f func() (sql.Result, error)) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		res, err := f()
		if err == nil {
			return res, nil
		}
		if isRetryable(err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return nil, pgerrors.Database(werr, "waiting to retry statement")
			}
			continue
		}
		return nil, pgerrors.Database(err, "executing statement")
	}
}

func isRetryable(err error) bool {
	pqErr := &pq.Error{}
	if errors.As(err, &pqErr) {
		return pqErr.Code == lockNotAvailableCode || pqErr.Code == serializationFailCode
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// DSN assembles a postgres:// connection URL from discrete connection
// parameters, in the style pq.ParseURL expects. host/port/database/user are
// never concatenated into SQL; they only ever pass through net/url's
// escaping.
func DSN(host string, port int, database, user, password, encoding string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + database,
	}
	if user != "" {
		if password != "" {
			u.User = url.UserPassword(user, password)
		} else {
			u.User = url.User(user)
		}
	}
	q := u.Query()
	q.Set("sslmode", "prefer")
	if encoding != "" {
		q.Set("client_encoding", encoding)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
