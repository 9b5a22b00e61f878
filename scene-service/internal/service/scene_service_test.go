package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scene-server/pkg/taskmanager"
	"scene-server/scene-service/internal/service"
	"scene-server/shared/constants"
	sharedMocks "scene-server/shared/interfaces/mocks"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// stubTaskManager записывает поставленные задачи вместо их исполнения.
// runInline=true исполняет задачу синхронно (для тестов пайплайна целиком).
type stubTaskManager struct {
	mu        sync.Mutex
	submitted int
	runInline bool
	submitErr error
}

func (s *stubTaskManager) SubmitTask(ctx context.Context, taskFunc taskmanager.TaskFunc, params interface{}) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return uuid.Nil, s.submitErr
	}
	s.submitted++
	if s.runInline {
		_, _ = taskFunc(ctx, params)
	}
	return uuid.New(), nil
}

func (s *stubTaskManager) GetTask(taskID uuid.UUID) (*taskmanager.Task, error) { return nil, nil }
func (s *stubTaskManager) CancelTask(taskID uuid.UUID) error                   { return nil }
func (s *stubTaskManager) RegisterCallback(taskID uuid.UUID, cb taskmanager.TaskCallback) error {
	return nil
}
func (s *stubTaskManager) UnregisterCallbacks(taskID uuid.UUID)  {}
func (s *stubTaskManager) CleanupTasks(age time.Duration)        {}
func (s *stubTaskManager) Shutdown(ctx context.Context) error    { return nil }

func (s *stubTaskManager) submittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// sceneFixture собирает сервис со всеми моками.
type sceneFixture struct {
	txRunner    *sharedMocks.TxRunner
	sceneRepo   *sharedMocks.SceneRepository
	actionRepo  *sharedMocks.PlayerActionRepository
	turnRepo    *sharedMocks.TurnStateRepository
	ledgerRepo  *sharedMocks.LedgerRepository
	settings    *sharedMocks.SettingsRepository
	campaigns   *sharedMocks.CampaignServiceClient
	resolver    *sharedMocks.NarrativeResolverClient
	broadcaster *sharedMocks.SceneBroadcaster
	tasks       *stubTaskManager
	svc         service.SceneService
}

func newSceneFixture() *sceneFixture {
	f := &sceneFixture{
		txRunner:    new(sharedMocks.TxRunner),
		sceneRepo:   new(sharedMocks.SceneRepository),
		actionRepo:  new(sharedMocks.PlayerActionRepository),
		turnRepo:    new(sharedMocks.TurnStateRepository),
		ledgerRepo:  new(sharedMocks.LedgerRepository),
		settings:    new(sharedMocks.SettingsRepository),
		campaigns:   new(sharedMocks.CampaignServiceClient),
		resolver:    new(sharedMocks.NarrativeResolverClient),
		broadcaster: new(sharedMocks.SceneBroadcaster),
		tasks:       &stubTaskManager{},
	}
	pipeline := service.NewResolutionPipeline(
		nil, f.txRunner, f.sceneRepo, f.actionRepo, f.ledgerRepo, f.settings,
		f.resolver, f.broadcaster, f.tasks, time.Second, zap.NewNop(),
	)
	f.svc = service.NewSceneService(
		nil, f.txRunner, f.sceneRepo, f.actionRepo, f.turnRepo, f.ledgerRepo,
		f.settings, f.campaigns, f.broadcaster, pipeline, zap.NewNop(),
	)
	return f
}

func activeScene(campaignID uuid.UUID, userIDs, charIDs []uuid.UUID) *models.Scene {
	return &models.Scene{
		ID:                      uuid.New(),
		CampaignID:              campaignID,
		SceneNumber:             1,
		Status:                  models.SceneStatusAwaitingActions,
		CurrentExchangeNumber:   3,
		ParticipantCharacterIDs: charIDs,
		ParticipantUserIDs:      userIDs,
		WaitingOnUserIDs:        userIDs,
	}
}

func TestSubmitAction(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()
	userA, userB := uuid.New(), uuid.New()
	charA, charB := uuid.New(), uuid.New()

	t.Run("Successful submission recomputes waiting list", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA, userB}, []uuid.UUID{charA, charB})

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userA, charA).Return(true, nil).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, scene.ID).Return(nil, models.ErrTurnOrderNotEnabled).Once()

		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("GetByIDForUpdate", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.actionRepo.On("Create", ctx, mock.Anything, mock.MatchedBy(func(a *models.PlayerAction) bool {
			return a.SceneID == scene.ID &&
				a.ExchangeNumber == 3 &&
				a.CharacterID == charA &&
				a.UserID == userA &&
				a.Status == models.ActionStatusPending
		})).Return(nil).Once()
		f.actionRepo.On("ListPendingUserIDs", ctx, mock.Anything, scene.ID, 3).Return([]uuid.UUID{userA}, nil).Once()
		f.sceneRepo.On("UpdateParticipantsAndWaiting", ctx, mock.Anything, scene.ID, 3,
			[]uuid.UUID{charA, charB}, []uuid.UUID{userA, userB}, []uuid.UUID{userB}).Return(nil).Once()

		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventActionCreated, mock.Anything).Return().Once()
		// Не все действовали: переход в RESOLVING не выигрывается
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, scene.ID, 3, true).Return(false, nil).Once()

		updated, err := f.svc.SubmitAction(ctx, scene.ID, charA, userA, "Осматриваю зал")

		assert.NoError(t, err)
		assert.Equal(t, []uuid.UUID{userB}, updated.WaitingOnUserIDs)
		assert.Equal(t, 0, f.tasks.submittedCount())
		f.sceneRepo.AssertExpectations(t)
		f.actionRepo.AssertExpectations(t)
	})

	t.Run("Concurrent first registration survives a stale read", func(t *testing.T) {
		f := newSceneFixture()
		// Снимок до транзакции пуст, но к моменту блокировки строки
		// другой игрок уже успел зарегистрироваться.
		stale := activeScene(campaignID, nil, nil)
		locked := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		locked.ID = stale.ID
		locked.WaitingOnUserIDs = []uuid.UUID{userA}

		f.sceneRepo.On("GetByID", ctx, mock.Anything, stale.ID).Return(stale, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userB, charB).Return(true, nil).Once()
		f.sceneRepo.On("FindActiveSceneForCharacter", ctx, mock.Anything, campaignID, charB).
			Return(nil, models.ErrSceneNotFound).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, stale.ID).Return(nil, models.ErrTurnOrderNotEnabled).Once()

		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("GetByIDForUpdate", ctx, mock.Anything, stale.ID).Return(locked, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).
			Return(models.DefaultSceneSettings(campaignID), nil).Once()
		f.actionRepo.On("Create", ctx, mock.Anything, mock.Anything).Return(nil).Once()
		f.actionRepo.On("ListPendingUserIDs", ctx, mock.Anything, stale.ID, 3).Return([]uuid.UUID{userB}, nil).Once()
		// Регистрация первого игрока не затерта: оба остаются в списках
		f.sceneRepo.On("UpdateParticipantsAndWaiting", ctx, mock.Anything, stale.ID, 3,
			[]uuid.UUID{charA, charB}, []uuid.UUID{userA, userB}, []uuid.UUID{userA}).Return(nil).Once()

		f.broadcaster.On("BroadcastToScene", ctx, stale.ID, campaignID, constants.WSEventActionCreated, mock.Anything).Return().Once()
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, stale.ID, 3, true).Return(false, nil).Once()

		updated, err := f.svc.SubmitAction(ctx, stale.ID, charB, userB, "Присоединяюсь")

		assert.NoError(t, err)
		assert.Equal(t, []uuid.UUID{userA, userB}, updated.ParticipantUserIDs)
		f.sceneRepo.AssertExpectations(t)
	})

	t.Run("Participant cap rejects a new character", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		cfg := models.DefaultSceneSettings(campaignID)
		cfg.MaxSceneParticipant = 1

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userB, charB).Return(true, nil).Once()
		f.sceneRepo.On("FindActiveSceneForCharacter", ctx, mock.Anything, campaignID, charB).
			Return(nil, models.ErrSceneNotFound).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, scene.ID).Return(nil, models.ErrTurnOrderNotEnabled).Once()

		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("GetByIDForUpdate", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(cfg, nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charB, userB, "Мест нет")

		assert.ErrorIs(t, err, models.ErrSceneFull)
		f.actionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Last participant to act wins the resolution transition", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA, userB}, []uuid.UUID{charA, charB})
		scene.WaitingOnUserIDs = []uuid.UUID{userB}

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userB, charB).Return(true, nil).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, scene.ID).Return(nil, models.ErrTurnOrderNotEnabled).Once()

		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("GetByIDForUpdate", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.actionRepo.On("Create", ctx, mock.Anything, mock.Anything).Return(nil).Once()
		f.actionRepo.On("ListPendingUserIDs", ctx, mock.Anything, scene.ID, 3).Return([]uuid.UUID{userA, userB}, nil).Once()
		f.sceneRepo.On("UpdateParticipantsAndWaiting", ctx, mock.Anything, scene.ID, 3,
			mock.Anything, mock.Anything, []uuid.UUID{}).Return(nil).Once()

		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventActionCreated, mock.Anything).Return().Once()
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, scene.ID, 3, true).Return(true, nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventSceneResolving, mock.Anything).Return().Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charB, userB, "Атакую")

		assert.NoError(t, err)
		assert.Equal(t, 1, f.tasks.submittedCount())
		f.broadcaster.AssertExpectations(t)
	})

	t.Run("Open scene starts resolution after a single action", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA, userB}, []uuid.UUID{charA, charB})
		scene.Open = true

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userA, charA).Return(true, nil).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, scene.ID).Return(nil, models.ErrTurnOrderNotEnabled).Once()

		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("GetByIDForUpdate", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.actionRepo.On("Create", ctx, mock.Anything, mock.Anything).Return(nil).Once()
		f.actionRepo.On("ListPendingUserIDs", ctx, mock.Anything, scene.ID, 3).Return([]uuid.UUID{userA}, nil).Once()
		f.sceneRepo.On("UpdateParticipantsAndWaiting", ctx, mock.Anything, scene.ID, 3,
			mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventActionCreated, mock.Anything).Return().Once()
		// Открытая сцена: requireAllActed=false
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, scene.ID, 3, false).Return(true, nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventSceneResolving, mock.Anything).Return().Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charA, userA, "Вхожу в таверну")

		assert.NoError(t, err)
		assert.Equal(t, 1, f.tasks.submittedCount())
	})

	t.Run("Blank action text", func(t *testing.T) {
		f := newSceneFixture()
		_, err := f.svc.SubmitAction(ctx, uuid.New(), charA, userA, "   ")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("Completed scene rejects actions", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		scene.Status = models.SceneStatusCompleted
		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charA, userA, "Поздно")
		assert.ErrorIs(t, err, models.ErrSceneAlreadyClosed)
	})

	t.Run("Resolving scene rejects actions", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		scene.Status = models.SceneStatusResolving
		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charA, userA, "Еще действие")
		assert.ErrorIs(t, err, models.ErrSceneNotAcceptingActions)
	})

	t.Run("Character owned by someone else", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userB, charA).Return(false, nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charA, userB, "Чужой персонаж")
		assert.ErrorIs(t, err, models.ErrCharacterNotOwned)
	})

	t.Run("Character already in another active scene", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		other := activeScene(campaignID, []uuid.UUID{userB}, []uuid.UUID{charB})

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userB, charB).Return(true, nil).Once()
		f.sceneRepo.On("FindActiveSceneForCharacter", ctx, mock.Anything, campaignID, charB).Return(other, nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charB, userB, "Пытаюсь войти")
		assert.ErrorIs(t, err, models.ErrCharacterAlreadyInActiveScene)
	})

	t.Run("Turn order blocks out-of-turn actor", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, []uuid.UUID{userA, userB}, []uuid.UUID{charA, charB})
		state := &models.TurnState{
			SceneID:           scene.ID,
			ActorUserIDs:      []uuid.UUID{userB, userA},
			ActorCharacterIDs: []uuid.UUID{charB, charA},
			CurrentIndex:      0,
		}

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userA, charA).Return(true, nil).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, scene.ID).Return(state, nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charA, userA, "Вне очереди")
		assert.ErrorIs(t, err, models.ErrNotYourTurn)
	})

	t.Run("Launch failure reverts the scene", func(t *testing.T) {
		f := newSceneFixture()
		f.tasks.submitErr = errors.New("task queue full")
		scene := activeScene(campaignID, []uuid.UUID{userA}, []uuid.UUID{charA})
		scene.WaitingOnUserIDs = []uuid.UUID{userA}

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("IsCharacterOwner", ctx, campaignID, userA, charA).Return(true, nil).Once()
		f.turnRepo.On("GetBySceneID", ctx, mock.Anything, scene.ID).Return(nil, models.ErrTurnOrderNotEnabled).Once()

		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("GetByIDForUpdate", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.actionRepo.On("Create", ctx, mock.Anything, mock.Anything).Return(nil).Once()
		f.actionRepo.On("ListPendingUserIDs", ctx, mock.Anything, scene.ID, 3).Return([]uuid.UUID{userA}, nil).Once()
		f.sceneRepo.On("UpdateParticipantsAndWaiting", ctx, mock.Anything, scene.ID, 3,
			mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventActionCreated, mock.Anything).Return().Once()
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, scene.ID, 3, true).Return(true, nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventSceneResolving, mock.Anything).Return().Once()
		// Постановка задачи не удалась: статус откатывается, действия остаются pending
		f.sceneRepo.On("RevertToAwaiting", ctx, mock.Anything, scene.ID, 3).Return(nil).Once()

		_, err := f.svc.SubmitAction(ctx, scene.ID, charA, userA, "Действую")

		assert.NoError(t, err)
		f.sceneRepo.AssertExpectations(t)
	})
}

func TestCreateScene(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()
	gmID := uuid.New()

	t.Run("Successful creation seeds the ledger", func(t *testing.T) {
		f := newSceneFixture()
		ownerID := uuid.New()

		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(models.DefaultSceneSettings(campaignID), nil).Once()
		f.campaigns.On("GetCampaignOwner", ctx, campaignID).Return(ownerID, nil).Once()
		f.ledgerRepo.On("CreateIfAbsent", ctx, mock.Anything, campaignID, ownerID, int64(100)).Return(nil).Once()
		f.sceneRepo.On("NextSceneNumber", ctx, mock.Anything, campaignID).Return(4, nil).Once()
		f.sceneRepo.On("Create", ctx, mock.Anything, mock.MatchedBy(func(s *models.Scene) bool {
			return s.CampaignID == campaignID &&
				s.SceneNumber == 4 &&
				s.Status == models.SceneStatusAwaitingActions &&
				s.CurrentExchangeNumber == 1
		})).Return(uuid.New(), nil).Once()
		f.broadcaster.On("BroadcastToCampaign", ctx, campaignID, constants.WSEventSceneCreated, mock.Anything).Return().Once()

		scene, err := f.svc.CreateScene(ctx, campaignID, gmID, false)

		assert.NoError(t, err)
		assert.Equal(t, 4, scene.SceneNumber)
		assert.Equal(t, 1, scene.CurrentExchangeNumber)
		f.ledgerRepo.AssertExpectations(t)
	})

	t.Run("Non-GM is rejected", func(t *testing.T) {
		f := newSceneFixture()
		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return("ROLE_PLAYER", nil).Once()

		_, err := f.svc.CreateScene(ctx, campaignID, gmID, false)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})
}

func TestForceCompleteExchange(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()
	gmID := uuid.New()

	t.Run("No pending actions", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.actionRepo.On("ListPendingByExchange", ctx, mock.Anything, scene.ID, 3).Return([]*models.PlayerAction{}, nil).Once()

		err := f.svc.ForceCompleteExchange(ctx, scene.ID, gmID)
		assert.ErrorIs(t, err, models.ErrNoPendingActions)
	})

	t.Run("Lost transition race", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)
		pending := []*models.PlayerAction{{ID: uuid.New()}}

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.actionRepo.On("ListPendingByExchange", ctx, mock.Anything, scene.ID, 3).Return(pending, nil).Once()
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, scene.ID, 3, false).Return(false, nil).Once()

		err := f.svc.ForceCompleteExchange(ctx, scene.ID, gmID)
		assert.ErrorIs(t, err, models.ErrExchangeInFlight)
	})

	t.Run("Successful force-complete launches resolution", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)
		pending := []*models.PlayerAction{{ID: uuid.New()}}

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.actionRepo.On("ListPendingByExchange", ctx, mock.Anything, scene.ID, 3).Return(pending, nil).Once()
		f.sceneRepo.On("TryBeginResolution", ctx, mock.Anything, scene.ID, 3, false).Return(true, nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventSceneResolving, mock.Anything).Return().Once()

		err := f.svc.ForceCompleteExchange(ctx, scene.ID, gmID)

		assert.NoError(t, err)
		assert.Equal(t, 1, f.tasks.submittedCount())
	})
}

func TestResetStuckScene(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()
	adminID := uuid.New()

	t.Run("Reset drops the in-flight exchange's pending actions", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)
		scene.Status = models.SceneStatusResolving

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, adminID).Return(models.RoleAdmin, nil).Once()
		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("ResetStuck", ctx, mock.Anything, scene.ID).Return(3, nil).Once()
		f.actionRepo.On("DeletePending", ctx, mock.Anything, scene.ID, 3).Return(int64(2), nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventSceneReset, mock.Anything).Return().Once()

		err := f.svc.ResetStuckScene(ctx, scene.ID, adminID)

		assert.NoError(t, err)
		f.actionRepo.AssertExpectations(t)
	})

	t.Run("Scene is not stuck", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, adminID).Return(models.RoleAdmin, nil).Once()
		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.sceneRepo.On("ResetStuck", ctx, mock.Anything, scene.ID).Return(0, models.ErrSceneNotStuck).Once()

		err := f.svc.ResetStuckScene(ctx, scene.ID, adminID)
		assert.ErrorIs(t, err, models.ErrSceneNotStuck)
	})
}

func TestEndScene(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()
	gmID := uuid.New()

	t.Run("Completion removes the turn tracker", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.sceneRepo.On("MarkCompleted", ctx, mock.Anything, scene.ID).Return(nil).Once()
		f.turnRepo.On("DeleteBySceneID", ctx, mock.Anything, scene.ID).Return(nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, scene.ID, campaignID, constants.WSEventSceneCompleted, mock.Anything).Return().Once()

		err := f.svc.EndScene(ctx, scene.ID, gmID)

		assert.NoError(t, err)
		f.turnRepo.AssertExpectations(t)
	})

	t.Run("Mid-resolution completion is rejected by storage", func(t *testing.T) {
		f := newSceneFixture()
		scene := activeScene(campaignID, nil, nil)
		scene.Status = models.SceneStatusResolving

		f.sceneRepo.On("GetByID", ctx, mock.Anything, scene.ID).Return(scene, nil).Once()
		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.sceneRepo.On("MarkCompleted", ctx, mock.Anything, scene.ID).Return(models.ErrSceneNotAcceptingActions).Once()

		err := f.svc.EndScene(ctx, scene.ID, gmID)
		assert.ErrorIs(t, err, models.ErrSceneNotAcceptingActions)
	})
}

func TestTopUpLedger(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()
	gmID := uuid.New()

	t.Run("Non-positive amount", func(t *testing.T) {
		f := newSceneFixture()
		_, err := f.svc.TopUpLedger(ctx, campaignID, gmID, 0)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("Successful top-up", func(t *testing.T) {
		f := newSceneFixture()
		ledger := &models.CampaignLedger{CampaignID: campaignID, Balance: 150}

		f.campaigns.On("GetMemberRole", ctx, campaignID, gmID).Return(models.RoleGameMaster, nil).Once()
		f.txRunner.On("WithTransaction", ctx, mock.Anything).Return(nil).Once()
		f.ledgerRepo.On("Credit", ctx, mock.Anything, campaignID, mock.Anything, int64(50)).Return(nil).Once()
		f.ledgerRepo.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(ledger, nil).Once()

		got, err := f.svc.TopUpLedger(ctx, campaignID, gmID, 50)

		assert.NoError(t, err)
		assert.Equal(t, int64(150), got.Balance)
	})
}
