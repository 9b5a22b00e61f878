package worker

import (
	"context"
	"testing"
	"time"

	"scene-server/shared/constants"
	sharedMocks "scene-server/shared/interfaces/mocks"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type workerFixture struct {
	sceneRepo   *sharedMocks.SceneRepository
	turnRepo    *sharedMocks.TurnStateRepository
	settings    *sharedMocks.SettingsRepository
	broadcaster *sharedMocks.SceneBroadcaster
	worker      *ReminderWorker
}

func newWorkerFixture(now time.Time) *workerFixture {
	f := &workerFixture{
		sceneRepo:   new(sharedMocks.SceneRepository),
		turnRepo:    new(sharedMocks.TurnStateRepository),
		settings:    new(sharedMocks.SettingsRepository),
		broadcaster: new(sharedMocks.SceneBroadcaster),
	}
	f.worker = NewReminderWorker(nil, f.sceneRepo, f.turnRepo, f.settings, f.broadcaster, time.Minute, zap.NewNop())
	f.worker.now = func() time.Time { return now }
	return f
}

func dueState(sceneID uuid.UUID, userID uuid.UUID, deadline time.Time) *models.TurnState {
	return &models.TurnState{
		SceneID:        sceneID,
		ActorUserIDs:   []uuid.UUID{userID},
		CurrentIndex:   0,
		TurnDeadline:   deadline,
		TimeoutSeconds: 1800,
	}
}

func TestReminderSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	campaignID := uuid.New()
	sceneID := uuid.New()
	userID := uuid.New()
	scene := &models.Scene{
		ID:          sceneID,
		CampaignID:  campaignID,
		SceneNumber: 2,
		Status:      models.SceneStatusAwaitingActions,
	}

	t.Run("Crossed threshold notifies the current actor once", func(t *testing.T) {
		f := newWorkerFixture(now)
		// До дедлайна 4 минуты: порог 300 пересечен, 60 еще нет
		state := dueState(sceneID, userID, now.Add(4*time.Minute))
		state.FiredThresholds = []int{900}

		f.turnRepo.On("ListDue", ctx, mock.Anything, now, 900*time.Second).Return([]*models.TurnState{state}, nil).Once()
		f.sceneRepo.On("GetByID", ctx, mock.Anything, sceneID).Return(scene, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(models.DefaultSceneSettings(campaignID), nil).Once()
		f.turnRepo.On("ClaimThreshold", ctx, mock.Anything, sceneID, 0, 300).Return(true, nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, sceneID, campaignID, constants.WSEventTurnReminder,
			mock.MatchedBy(func(p models.TurnEventPayload) bool {
				return p.CurrentUserID == userID && p.ThresholdSeconds == 300 && p.RemainingSeconds == 240
			})).Return().Once()
		f.broadcaster.On("NotifyUsers", ctx, []uuid.UUID{userID}, mock.MatchedBy(func(p *models.PushNotificationPayload) bool {
			return p.Data["scene_id"] == sceneID.String() && p.Data["type"] == "turn_reminder"
		})).Return().Once()

		f.worker.Sweep(ctx)

		f.turnRepo.AssertExpectations(t)
		f.broadcaster.AssertExpectations(t)
	})

	t.Run("Already fired threshold is skipped", func(t *testing.T) {
		f := newWorkerFixture(now)
		state := dueState(sceneID, userID, now.Add(4*time.Minute))
		state.FiredThresholds = []int{900, 300}

		f.turnRepo.On("ListDue", ctx, mock.Anything, now, 900*time.Second).Return([]*models.TurnState{state}, nil).Once()
		f.sceneRepo.On("GetByID", ctx, mock.Anything, sceneID).Return(scene, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(models.DefaultSceneSettings(campaignID), nil).Once()

		f.worker.Sweep(ctx)

		f.turnRepo.AssertNotCalled(t, "ClaimThreshold",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.broadcaster.AssertNotCalled(t, "NotifyUsers", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Threshold not yet crossed", func(t *testing.T) {
		f := newWorkerFixture(now)
		// До дедлайна 20 минут: ни один порог по умолчанию не пересечен
		state := dueState(sceneID, userID, now.Add(20*time.Minute))

		f.turnRepo.On("ListDue", ctx, mock.Anything, now, 900*time.Second).Return([]*models.TurnState{state}, nil).Once()
		f.sceneRepo.On("GetByID", ctx, mock.Anything, sceneID).Return(scene, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(models.DefaultSceneSettings(campaignID), nil).Once()

		f.worker.Sweep(ctx)

		f.turnRepo.AssertNotCalled(t, "ClaimThreshold",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Inactive scene is skipped", func(t *testing.T) {
		f := newWorkerFixture(now)
		completed := &models.Scene{ID: sceneID, CampaignID: campaignID, Status: models.SceneStatusCompleted}
		state := dueState(sceneID, userID, now.Add(time.Minute))

		f.turnRepo.On("ListDue", ctx, mock.Anything, now, 900*time.Second).Return([]*models.TurnState{state}, nil).Once()
		f.sceneRepo.On("GetByID", ctx, mock.Anything, sceneID).Return(completed, nil).Once()

		f.worker.Sweep(ctx)

		f.broadcaster.AssertNotCalled(t, "BroadcastToScene",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Lost claim sends nothing", func(t *testing.T) {
		f := newWorkerFixture(now)
		state := dueState(sceneID, userID, now.Add(30*time.Second))
		state.FiredThresholds = []int{900, 300}

		f.turnRepo.On("ListDue", ctx, mock.Anything, now, 900*time.Second).Return([]*models.TurnState{state}, nil).Once()
		f.sceneRepo.On("GetByID", ctx, mock.Anything, sceneID).Return(scene, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(models.DefaultSceneSettings(campaignID), nil).Once()
		// Параллельный свипер успел первым
		f.turnRepo.On("ClaimThreshold", ctx, mock.Anything, sceneID, 0, 60).Return(false, nil).Once()

		f.worker.Sweep(ctx)

		f.broadcaster.AssertNotCalled(t, "NotifyUsers", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Campaign thresholds override the defaults", func(t *testing.T) {
		f := newWorkerFixture(now)
		cfg := models.DefaultSceneSettings(campaignID)
		cfg.ReminderThresholds = []int{120}
		state := dueState(sceneID, userID, now.Add(90*time.Second))

		f.turnRepo.On("ListDue", ctx, mock.Anything, now, 900*time.Second).Return([]*models.TurnState{state}, nil).Once()
		f.sceneRepo.On("GetByID", ctx, mock.Anything, sceneID).Return(scene, nil).Once()
		f.settings.On("GetByCampaignID", ctx, mock.Anything, campaignID).Return(cfg, nil).Once()
		f.turnRepo.On("ClaimThreshold", ctx, mock.Anything, sceneID, 0, 120).Return(true, nil).Once()
		f.broadcaster.On("BroadcastToScene", ctx, sceneID, campaignID, constants.WSEventTurnReminder,
			mock.MatchedBy(func(p models.TurnEventPayload) bool {
				return p.ThresholdSeconds == 120
			})).Return().Once()
		f.broadcaster.On("NotifyUsers", ctx, []uuid.UUID{userID}, mock.Anything).Return().Once()

		f.worker.Sweep(ctx)

		f.turnRepo.AssertExpectations(t)
	})
}
