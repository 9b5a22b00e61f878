package mocks

import (
	"context"
	"time"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock PlayerActionRepository
type PlayerActionRepository struct {
	mock.Mock
}

func (m *PlayerActionRepository) Create(ctx context.Context, querier interfaces.DBTX, action *models.PlayerAction) error {
	args := m.Called(ctx, querier, action)
	return args.Error(0)
}

func (m *PlayerActionRepository) ListPendingByExchange(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) ([]*models.PlayerAction, error) {
	args := m.Called(ctx, querier, sceneID, exchangeNumber)
	actions, _ := args.Get(0).([]*models.PlayerAction)
	return actions, args.Error(1)
}

func (m *PlayerActionRepository) ListPendingUserIDs(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) ([]uuid.UUID, error) {
	args := m.Called(ctx, querier, sceneID, exchangeNumber)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

func (m *PlayerActionRepository) MarkResolved(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) (int64, error) {
	args := m.Called(ctx, querier, sceneID, exchangeNumber)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *PlayerActionRepository) DeletePending(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) (int64, error) {
	args := m.Called(ctx, querier, sceneID, exchangeNumber)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// Mock TurnStateRepository
type TurnStateRepository struct {
	mock.Mock
}

func (m *TurnStateRepository) Create(ctx context.Context, querier interfaces.DBTX, state *models.TurnState) error {
	args := m.Called(ctx, querier, state)
	return args.Error(0)
}

func (m *TurnStateRepository) GetBySceneID(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) (*models.TurnState, error) {
	args := m.Called(ctx, querier, sceneID)
	state, _ := args.Get(0).(*models.TurnState)
	return state, args.Error(1)
}

func (m *TurnStateRepository) AdvanceTurn(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedIndex, newIndex int, turnStartedAt, deadline time.Time) (bool, error) {
	args := m.Called(ctx, querier, sceneID, expectedIndex, newIndex, turnStartedAt, deadline)
	return args.Bool(0), args.Error(1)
}

func (m *TurnStateRepository) ClaimThreshold(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedIndex, thresholdSeconds int) (bool, error) {
	args := m.Called(ctx, querier, sceneID, expectedIndex, thresholdSeconds)
	return args.Bool(0), args.Error(1)
}

func (m *TurnStateRepository) ListDue(ctx context.Context, querier interfaces.DBTX, now time.Time, horizon time.Duration) ([]*models.TurnState, error) {
	args := m.Called(ctx, querier, now, horizon)
	states, _ := args.Get(0).([]*models.TurnState)
	return states, args.Error(1)
}

func (m *TurnStateRepository) DeleteBySceneID(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) error {
	args := m.Called(ctx, querier, sceneID)
	return args.Error(0)
}

// Mock LedgerRepository
type LedgerRepository struct {
	mock.Mock
}

func (m *LedgerRepository) GetByCampaignID(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) (*models.CampaignLedger, error) {
	args := m.Called(ctx, querier, campaignID)
	ledger, _ := args.Get(0).(*models.CampaignLedger)
	return ledger, args.Error(1)
}

func (m *LedgerRepository) CreateIfAbsent(ctx context.Context, querier interfaces.DBTX, campaignID, ownerUserID uuid.UUID, startingBalance int64) error {
	args := m.Called(ctx, querier, campaignID, ownerUserID, startingBalance)
	return args.Error(0)
}

func (m *LedgerRepository) Debit(ctx context.Context, querier interfaces.DBTX, campaignID, attemptID uuid.UUID, amount int64) error {
	args := m.Called(ctx, querier, campaignID, attemptID, amount)
	return args.Error(0)
}

func (m *LedgerRepository) Refund(ctx context.Context, querier interfaces.DBTX, campaignID, attemptID uuid.UUID, amount int64) error {
	args := m.Called(ctx, querier, campaignID, attemptID, amount)
	return args.Error(0)
}

func (m *LedgerRepository) Credit(ctx context.Context, querier interfaces.DBTX, campaignID, attemptID uuid.UUID, amount int64) error {
	args := m.Called(ctx, querier, campaignID, attemptID, amount)
	return args.Error(0)
}

func (m *LedgerRepository) ListEntries(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	args := m.Called(ctx, querier, campaignID, limit)
	entries, _ := args.Get(0).([]*models.LedgerEntry)
	return entries, args.Error(1)
}

// Mock SettingsRepository
type SettingsRepository struct {
	mock.Mock
}

func (m *SettingsRepository) GetByCampaignID(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) (*models.SceneSettings, error) {
	args := m.Called(ctx, querier, campaignID)
	settings, _ := args.Get(0).(*models.SceneSettings)
	return settings, args.Error(1)
}

func (m *SettingsRepository) Upsert(ctx context.Context, querier interfaces.DBTX, settings *models.SceneSettings) error {
	args := m.Called(ctx, querier, settings)
	return args.Error(0)
}
