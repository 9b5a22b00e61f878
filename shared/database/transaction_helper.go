package database

import (
	"context"
	"errors"
	"fmt"

	"scene-server/shared/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check
var _ interfaces.TxRunner = (*PgxTxRunner)(nil)

// PgxTxRunner исполняет функции внутри транзакции pgx с автоматическим
// rollback при ошибке или панике.
type PgxTxRunner struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgxTxRunner(pool *pgxpool.Pool, logger *zap.Logger) *PgxTxRunner {
	return &PgxTxRunner{
		pool:   pool,
		logger: logger.Named("PgxTxRunner"),
	}
}

// WithTransaction begins a transaction, runs fn with it and commits. Любая
// ошибка или паника внутри fn откатывает транзакцию целиком.
func (r *PgxTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.DBTX) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p) // re-panic после отката
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error("Failed to rollback transaction", zap.Error(rbErr), zap.NamedError("originalError", err))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}
