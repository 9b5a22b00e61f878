package mocks

import (
	"context"
	"encoding/json"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock SceneRepository
type SceneRepository struct {
	mock.Mock
}

func (m *SceneRepository) Create(ctx context.Context, querier interfaces.DBTX, scene *models.Scene) (uuid.UUID, error) {
	args := m.Called(ctx, querier, scene)
	id, _ := args.Get(0).(uuid.UUID)
	return id, args.Error(1)
}

func (m *SceneRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Scene, error) {
	args := m.Called(ctx, querier, id)
	scene, _ := args.Get(0).(*models.Scene)
	return scene, args.Error(1)
}

func (m *SceneRepository) GetByIDForUpdate(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Scene, error) {
	args := m.Called(ctx, querier, id)
	scene, _ := args.Get(0).(*models.Scene)
	return scene, args.Error(1)
}

func (m *SceneRepository) ListActiveByCampaign(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) ([]*models.Scene, error) {
	args := m.Called(ctx, querier, campaignID)
	scenes, _ := args.Get(0).([]*models.Scene)
	return scenes, args.Error(1)
}

func (m *SceneRepository) FindActiveSceneForCharacter(ctx context.Context, querier interfaces.DBTX, campaignID, characterID uuid.UUID) (*models.Scene, error) {
	args := m.Called(ctx, querier, campaignID, characterID)
	scene, _ := args.Get(0).(*models.Scene)
	return scene, args.Error(1)
}

func (m *SceneRepository) NextSceneNumber(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) (int, error) {
	args := m.Called(ctx, querier, campaignID)
	return args.Int(0), args.Error(1)
}

func (m *SceneRepository) UpdateParticipantsAndWaiting(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int, characterIDs, userIDs, waiting []uuid.UUID) error {
	args := m.Called(ctx, querier, sceneID, expectedExchange, characterIDs, userIDs, waiting)
	return args.Error(0)
}

func (m *SceneRepository) TryBeginResolution(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int, requireAllActed bool) (bool, error) {
	args := m.Called(ctx, querier, sceneID, expectedExchange, requireAllActed)
	return args.Bool(0), args.Error(1)
}

func (m *SceneRepository) CompleteExchange(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int, exchangeState json.RawMessage, waiting []uuid.UUID) error {
	args := m.Called(ctx, querier, sceneID, expectedExchange, exchangeState, waiting)
	return args.Error(0)
}

func (m *SceneRepository) RevertToAwaiting(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int) error {
	args := m.Called(ctx, querier, sceneID, expectedExchange)
	return args.Error(0)
}

func (m *SceneRepository) ResetStuck(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) (int, error) {
	args := m.Called(ctx, querier, sceneID)
	return args.Int(0), args.Error(1)
}

func (m *SceneRepository) MarkCompleted(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) error {
	args := m.Called(ctx, querier, sceneID)
	return args.Error(0)
}
