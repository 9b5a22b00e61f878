package worker

import (
	"context"
	"fmt"
	"time"

	"scene-server/shared/constants"
	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderWorker периодически обходит активные трекеры ходов и рассылает
// эскалирующие напоминания текущему актору. Напоминания - вся реакция
// системы на истекающий дедлайн: ход НИКОГДА не пропускается автоматически.
type ReminderWorker struct {
	db          interfaces.DBTX
	sceneRepo   interfaces.SceneRepository
	turnRepo    interfaces.TurnStateRepository
	settings    interfaces.SettingsRepository
	broadcaster interfaces.SceneBroadcaster
	interval    time.Duration
	now         func() time.Time
	scheduler   gocron.Scheduler
	logger      *zap.Logger
}

// NewReminderWorker creates the sweep worker. interval<=0 falls back to 15s.
func NewReminderWorker(
	db interfaces.DBTX,
	sceneRepo interfaces.SceneRepository,
	turnRepo interfaces.TurnStateRepository,
	settings interfaces.SettingsRepository,
	broadcaster interfaces.SceneBroadcaster,
	interval time.Duration,
	logger *zap.Logger,
) *ReminderWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ReminderWorker{
		db:          db,
		sceneRepo:   sceneRepo,
		turnRepo:    turnRepo,
		settings:    settings,
		broadcaster: broadcaster,
		interval:    interval,
		now:         time.Now,
		logger:      logger.Named("ReminderWorker"),
	}
}

// Start запускает периодический свип. Остановка через Stop.
func (w *ReminderWorker) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			defer cancel()
			w.Sweep(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder sweep: %w", err)
	}
	sched.Start()
	w.scheduler = sched
	w.logger.Info("Reminder worker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop останавливает планировщик, дожидаясь текущего свипа.
func (w *ReminderWorker) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Shutdown()
}

// Sweep - один проход: для каждого трекера в окне напоминаний заявить
// несработавшие пороги и разослать события. Параллельные свиперы безопасны:
// порог отдается ровно одному через array-guard в UPDATE.
func (w *ReminderWorker) Sweep(ctx context.Context) {
	now := w.now().UTC()

	// Горизонт выборки - самый ранний возможный порог
	states, err := w.turnRepo.ListDue(ctx, w.db, now, w.maxThresholdHorizon())
	if err != nil {
		w.logger.Error("Reminder sweep failed to list due turn states", zap.Error(err))
		return
	}

	for _, state := range states {
		w.sweepOne(ctx, now, state)
	}
}

func (w *ReminderWorker) sweepOne(ctx context.Context, now time.Time, state *models.TurnState) {
	log := w.logger.With(zap.Stringer("sceneID", state.SceneID))

	scene, err := w.sceneRepo.GetByID(ctx, w.db, state.SceneID)
	if err != nil {
		log.Warn("Reminder sweep: scene lookup failed", zap.Error(err))
		return
	}
	if !scene.IsActive() {
		return
	}

	cfg, err := w.settings.GetByCampaignID(ctx, w.db, scene.CampaignID)
	if err != nil {
		log.Warn("Reminder sweep: settings lookup failed", zap.Error(err))
		return
	}
	thresholds := cfg.ReminderThresholds
	if len(thresholds) == 0 {
		thresholds = DefaultReminderThresholds
	}

	remaining := state.Remaining(now)
	for _, thresholdSeconds := range thresholds {
		if thresholdSeconds <= 0 {
			continue
		}
		if remaining > time.Duration(thresholdSeconds)*time.Second {
			continue // порог еще не пересечен
		}
		if state.HasFiredThreshold(thresholdSeconds) {
			continue
		}

		claimed, err := w.turnRepo.ClaimThreshold(ctx, w.db, state.SceneID, state.CurrentIndex, thresholdSeconds)
		if err != nil {
			log.Error("Failed to claim reminder threshold",
				zap.Int("thresholdSeconds", thresholdSeconds), zap.Error(err))
			continue
		}
		if !claimed {
			// Ход сдвинулся или порог забрал параллельный свипер
			continue
		}

		w.notify(ctx, scene, state, thresholdSeconds, remaining)
	}
}

func (w *ReminderWorker) notify(ctx context.Context, scene *models.Scene, state *models.TurnState, thresholdSeconds int, remaining time.Duration) {
	currentUserID := state.CurrentUserID()

	w.broadcaster.BroadcastToScene(ctx, scene.ID, scene.CampaignID, constants.WSEventTurnReminder, models.TurnEventPayload{
		CurrentUserID:    currentUserID,
		CurrentIndex:     state.CurrentIndex,
		TurnDeadline:     state.TurnDeadline.Format(time.RFC3339),
		RemainingSeconds: int64(remaining / time.Second),
		ThresholdSeconds: thresholdSeconds,
	})
	w.broadcaster.NotifyUsers(ctx, []uuid.UUID{currentUserID}, &models.PushNotificationPayload{
		Notification: models.PushNotification{
			Title: "Ваш ход",
			Body:  fmt.Sprintf("Сцена №%d ждет вашего действия, осталось %s", scene.SceneNumber, remaining.Round(time.Second)),
		},
		Data: map[string]string{
			"scene_id": scene.ID.String(),
			"type":     "turn_reminder",
		},
	})

	w.logger.Info("Turn reminder sent",
		zap.Stringer("sceneID", scene.ID),
		zap.Stringer("userID", currentUserID),
		zap.Int("thresholdSeconds", thresholdSeconds))
}

// DefaultReminderThresholds - секунды до дедлайна, по умолчанию 15м/5м/1м.
var DefaultReminderThresholds = []int{900, 300, 60}

func (w *ReminderWorker) maxThresholdHorizon() time.Duration {
	max := DefaultReminderThresholds[0]
	return time.Duration(max) * time.Second
}
