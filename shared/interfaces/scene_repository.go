package interfaces

import (
	"context"
	"encoding/json"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// SceneRepository defines storage access for scenes. Every cross-request
// invariant (status, waiting list, exchange number) is enforced here with
// conditional UPDATEs; the service layer never does check-then-write on these.
//
//go:generate mockery --name SceneRepository --output ./mocks --outpkg mocks --case=underscore
type SceneRepository interface {
	// Create inserts a new scene and returns its ID.
	Create(ctx context.Context, querier DBTX, scene *models.Scene) (uuid.UUID, error)

	// GetByID retrieves a scene by its unique ID.
	// Returns models.ErrSceneNotFound if no scene with the given ID exists.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Scene, error)

	// GetByIDForUpdate читает сцену с блокировкой строки (SELECT ... FOR
	// UPDATE). Вызывается только внутри транзакции: регистрация участника и
	// пересчет waiting-set должны исходить из зафиксированной строки, а не из
	// снимка, прочитанного до начала транзакции.
	GetByIDForUpdate(ctx context.Context, querier DBTX, id uuid.UUID) (*models.Scene, error)

	// ListActiveByCampaign returns scenes of the campaign with status
	// AWAITING_ACTIONS or RESOLVING, ordered by scene number.
	ListActiveByCampaign(ctx context.Context, querier DBTX, campaignID uuid.UUID) ([]*models.Scene, error)

	// FindActiveSceneForCharacter returns the active scene of the campaign the
	// character participates in, or models.ErrSceneNotFound.
	FindActiveSceneForCharacter(ctx context.Context, querier DBTX, campaignID, characterID uuid.UUID) (*models.Scene, error)

	// NextSceneNumber returns max(scene_number)+1 for the campaign.
	NextSceneNumber(ctx context.Context, querier DBTX, campaignID uuid.UUID) (int, error)

	// UpdateParticipantsAndWaiting записывает участников и waiting-set одной
	// командой. Guard: выполняется только пока сцена в AWAITING_ACTIONS и на
	// ожидаемом номере обмена; при проигранной гонке возвращает models.ErrSceneNotAcceptingActions.
	UpdateParticipantsAndWaiting(ctx context.Context, querier DBTX, sceneID uuid.UUID, expectedExchange int, characterIDs, userIDs, waiting []uuid.UUID) error

	// TryBeginResolution is the coordinator's atomic guard: a conditional
	// AWAITING_ACTIONS -> RESOLVING transition at the expected exchange number.
	// When requireAllActed is true the transition additionally requires a
	// non-empty participant set with an empty waiting list. Returns true only
	// for the single caller that won the transition.
	TryBeginResolution(ctx context.Context, querier DBTX, sceneID uuid.UUID, expectedExchange int, requireAllActed bool) (bool, error)

	// CompleteExchange applies a successful resolution: persists the new
	// exchange state, returns status to AWAITING_ACTIONS, increments the
	// exchange number and resets the waiting list to the full participant set.
	// Guarded on status=RESOLVING at the expected exchange.
	CompleteExchange(ctx context.Context, querier DBTX, sceneID uuid.UUID, expectedExchange int, exchangeState json.RawMessage, waiting []uuid.UUID) error

	// RevertToAwaiting возвращает сцену из RESOLVING в AWAITING_ACTIONS на том
	// же номере обмена, не трогая pending действия (обычное восстановление после сбоя).
	RevertToAwaiting(ctx context.Context, querier DBTX, sceneID uuid.UUID, expectedExchange int) error

	// ResetStuck is the administrative escape hatch: valid only from RESOLVING.
	// Clears the waiting list and exchange state and reverts to
	// AWAITING_ACTIONS, returning the exchange number that was in flight.
	// Returns models.ErrSceneNotStuck when the scene is not RESOLVING.
	ResetStuck(ctx context.Context, querier DBTX, sceneID uuid.UUID) (int, error)

	// MarkCompleted closes the scene (GM "end scene"). Only valid from
	// AWAITING_ACTIONS; returns models.ErrSceneNotAcceptingActions otherwise.
	MarkCompleted(ctx context.Context, querier DBTX, sceneID uuid.UUID) error
}
