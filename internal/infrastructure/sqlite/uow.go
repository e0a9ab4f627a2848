package sqlitestore

import (
	"context"
	"database/sql"

	"marketdata-etl/internal/domain"
)

type txKey struct{}

func txFromCtx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

type UnitOfWork struct {
	DB *sql.DB
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := u.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError("begin", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError("commit", err)
	}
	return nil
}

// savepoint wraps fn in a savepoint when ctx carries a transaction.
func (d *DB) savepoint(ctx context.Context, fn func(q querier) error) error {
	tx := txFromCtx(ctx)
	if tx == nil {
		return fn(d.SQL)
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT rec"); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		// release after rollback so the savepoint does not stay on the stack
		if _, rbErr := tx.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO rec"); rbErr == nil {
			_, _ = tx.ExecContext(context.WithoutCancel(ctx), "RELEASE rec")
		}
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE rec")
	return err
}
