// Package store is the PostgreSQL implementation of the ledger.
package store

import (
	"context"
	"fmt"
	"time"

	"PaymentReconciler/internal/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both pooled connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Pool           *pgxpool.Pool
	AcquireTimeout time.Duration
	CallTimeout    time.Duration
}

var _ ledger.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, acquireTimeout, callTimeout time.Duration) *Store {
	return &Store{Pool: pool, AcquireTimeout: acquireTimeout, CallTimeout: callTimeout}
}

// withConn acquires a pooled connection within AcquireTimeout and runs fn
// under CallTimeout. An exhausted pool surfaces as a transient error.
func (s *Store) withConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	acquireCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	conn, err := s.Pool.Acquire(acquireCtx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w: %w", ledger.ErrTransient, err)
	}
	defer conn.Release()

	callCtx := ctx
	if s.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
	}
	return fn(callCtx, conn)
}

// InTx runs fn in one transaction under the call timeout. Errors returned by
// fn are passed through untouched so callers keep their own classification.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.inTx(ctx, func(ctx context.Context, t *pgTx) error {
		return fn(ctx, t)
	})
}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, t *pgTx) error) error {
	return s.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", classify(err))
		}
		defer tx.Rollback(context.WithoutCancel(ctx))

		if err := fn(ctx, &pgTx{tx: tx}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", classifyCommit(err))
		}
		return nil
	})
}
