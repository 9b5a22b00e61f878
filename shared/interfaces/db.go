package interfaces

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX абстрагирует исполнителя запросов: может быть *pgxpool.Pool или pgx.Tx.
// Репозитории принимают его параметром, чтобы участвовать в транзакциях сервисного слоя.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner выполняет функцию внутри транзакции с автоматическим rollback при ошибке.
//
//go:generate mockery --name TxRunner --output ./mocks --outpkg mocks --case=underscore
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}
