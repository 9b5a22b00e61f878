package interfaces

import (
	"context"
	"time"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// TurnStateRepository defines storage access for per-scene turn trackers.
//
//go:generate mockery --name TurnStateRepository --output ./mocks --outpkg mocks --case=underscore
type TurnStateRepository interface {
	// Create inserts the tracker for a scene with turn order enabled.
	Create(ctx context.Context, querier DBTX, state *models.TurnState) error

	// GetBySceneID returns the tracker, or models.ErrTurnOrderNotEnabled when
	// the scene has none.
	GetBySceneID(ctx context.Context, querier DBTX, sceneID uuid.UUID) (*models.TurnState, error)

	// AdvanceTurn moves current_index from expectedIndex to newIndex, resets
	// the turn clock and clears fired reminder thresholds. Returns false when
	// the tracker has already moved past expectedIndex (CAS miss).
	AdvanceTurn(ctx context.Context, querier DBTX, sceneID uuid.UUID, expectedIndex, newIndex int, turnStartedAt, deadline time.Time) (bool, error)

	// ClaimThreshold атомарно помечает порог напоминания как сработавший.
	// Возвращает false, если порог уже заявлен другим проходом свипера или
	// ход сдвинулся с expectedIndex.
	ClaimThreshold(ctx context.Context, querier DBTX, sceneID uuid.UUID, expectedIndex, thresholdSeconds int) (bool, error)

	// ListDue returns trackers of scenes still accepting actions whose turn
	// deadline falls within now+horizon (or has already passed). Пороги
	// напоминаний базе неизвестны, их отбирает свипер.
	ListDue(ctx context.Context, querier DBTX, now time.Time, horizon time.Duration) ([]*models.TurnState, error)

	// DeleteBySceneID removes the tracker when a scene is completed.
	DeleteBySceneID(ctx context.Context, querier DBTX, sceneID uuid.UUID) error
}
