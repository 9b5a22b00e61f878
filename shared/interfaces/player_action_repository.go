package interfaces

import (
	"context"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// PlayerActionRepository defines storage access for submitted actions.
//
//go:generate mockery --name PlayerActionRepository --output ./mocks --outpkg mocks --case=underscore
type PlayerActionRepository interface {
	// Create inserts a new pending action.
	Create(ctx context.Context, querier DBTX, action *models.PlayerAction) error

	// ListPendingByExchange returns the pending actions of the given exchange,
	// ordered by creation time. This is the snapshot the pipeline resolves.
	ListPendingByExchange(ctx context.Context, querier DBTX, sceneID uuid.UUID, exchangeNumber int) ([]*models.PlayerAction, error)

	// ListPendingUserIDs returns the distinct user ids with a pending action at
	// the given exchange. Used to recompute the waiting list inside the insert
	// transaction.
	ListPendingUserIDs(ctx context.Context, querier DBTX, sceneID uuid.UUID, exchangeNumber int) ([]uuid.UUID, error)

	// MarkResolved flips all pending actions of the exchange to resolved and
	// returns how many rows changed.
	MarkResolved(ctx context.Context, querier DBTX, sceneID uuid.UUID, exchangeNumber int) (int64, error)

	// DeletePending удаляет pending действия обмена. Вызывается ТОЛЬКО из
	// административного reset; обычные сбои пайплайна действия не трогают.
	DeletePending(ctx context.Context, querier DBTX, sceneID uuid.UUID, exchangeNumber int) (int64, error)
}
