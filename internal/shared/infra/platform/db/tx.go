package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrTx marca fallos propios de la transacción (begin/commit), no del trabajo dentro de ella.
var ErrTx = errors.New("transaction failed")

// Querier es lo común a *sql.DB y *sql.Tx. Los repos lo usan para operar dentro o fuera de una transacción.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// RunInTx ejecuta fn en una transacción: commit si devuelve nil, rollback si devuelve error o hace panic.
// El panic se relanza tras el rollback.
func RunInTx(ctx context.Context, conn *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrTx, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("%w: rollback: %w", ErrTx, rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTx, err)
	}
	return nil
}
