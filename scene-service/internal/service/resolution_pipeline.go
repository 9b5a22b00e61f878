package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"scene-server/pkg/taskmanager"
	"scene-server/shared/constants"
	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// resolutionAttempt - эфемерное состояние одной попытки резолюции.
// settle-once guard: исход попытки (успех, сбой, таймаут) фиксируется ровно
// один раз; опоздавший результат резолвера проигрывает гонку и отбрасывается.
type resolutionAttempt struct {
	id       uuid.UUID
	mu       sync.Mutex
	settled  bool
	deducted int64 // Сколько реально списано; 0 - возвращать нечего
}

// trySettle returns true exactly once per attempt.
func (a *resolutionAttempt) trySettle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return false
	}
	a.settled = true
	return true
}

// resolveOutcome - результат вызова резолвера.
type resolveOutcome struct {
	result *interfaces.ResolveExchangeResult
	err    error
}

// ResolutionPipeline runs the detached resolution of a completed exchange:
// debit, resolver call, outcome application, compensating refund on failure.
type ResolutionPipeline struct {
	db              interfaces.DBTX
	txRunner        interfaces.TxRunner
	sceneRepo       interfaces.SceneRepository
	actionRepo      interfaces.PlayerActionRepository
	ledgerRepo      interfaces.LedgerRepository
	settings        interfaces.SettingsRepository
	resolver        interfaces.NarrativeResolverClient
	broadcaster     interfaces.SceneBroadcaster
	tasks           taskmanager.ITaskManager
	resolverTimeout time.Duration
	logger          *zap.Logger
}

// NewResolutionPipeline creates a new pipeline instance.
func NewResolutionPipeline(
	db interfaces.DBTX,
	txRunner interfaces.TxRunner,
	sceneRepo interfaces.SceneRepository,
	actionRepo interfaces.PlayerActionRepository,
	ledgerRepo interfaces.LedgerRepository,
	settings interfaces.SettingsRepository,
	resolver interfaces.NarrativeResolverClient,
	broadcaster interfaces.SceneBroadcaster,
	tasks taskmanager.ITaskManager,
	resolverTimeout time.Duration,
	logger *zap.Logger,
) *ResolutionPipeline {
	if resolverTimeout <= 0 {
		resolverTimeout = 120 * time.Second
	}
	return &ResolutionPipeline{
		db:              db,
		txRunner:        txRunner,
		sceneRepo:       sceneRepo,
		actionRepo:      actionRepo,
		ledgerRepo:      ledgerRepo,
		settings:        settings,
		resolver:        resolver,
		broadcaster:     broadcaster,
		tasks:           tasks,
		resolverTimeout: resolverTimeout,
		logger:          logger.Named("ResolutionPipeline"),
	}
}

// Launch ставит резолюцию обмена отсоединенной задачей. Вызывается ТОЛЬКО
// победителем CAS-перехода в RESOLVING.
func (p *ResolutionPipeline) Launch(ctx context.Context, scene *models.Scene, exchangeNumber int) error {
	sceneID := scene.ID
	campaignID := scene.CampaignID
	participants := len(scene.ParticipantUserIDs)
	priorState := scene.ExchangeState

	_, err := p.tasks.SubmitTask(ctx, func(taskCtx context.Context, _ interface{}) (interface{}, error) {
		p.Run(taskCtx, sceneID, campaignID, exchangeNumber, participants, priorState)
		return nil, nil
	}, nil)
	return err
}

// Run executes one resolution attempt to completion. Exported for the service
// tests; production entry point is Launch.
func (p *ResolutionPipeline) Run(ctx context.Context, sceneID, campaignID uuid.UUID, exchangeNumber, participantCount int, priorState json.RawMessage) {
	log := p.logger.With(
		zap.Stringer("sceneID", sceneID),
		zap.Stringer("campaignID", campaignID),
		zap.Int("exchangeNumber", exchangeNumber))

	attempt := &resolutionAttempt{id: uuid.New()}
	log = log.With(zap.Stringer("attemptID", attempt.id))
	log.Info("Resolution attempt started")

	// 1. Стоимость попытки из настроек кампании
	cfg, err := p.settings.GetByCampaignID(ctx, p.db, campaignID)
	if err != nil {
		p.fail(ctx, attempt, sceneID, campaignID, exchangeNumber, fmt.Sprintf("settings unavailable: %v", err))
		return
	}
	cost := cfg.ResolutionCostFor(participantCount)

	// 2-3. Атомарное списание. Нулевая стоимость и отсутствие леджера идут
	// мимо биллинга, но через тот же guard.
	if cost > 0 {
		err := p.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
			return p.ledgerRepo.Debit(ctx, tx, campaignID, attempt.id, cost)
		})
		switch {
		case err == nil:
			attempt.deducted = cost
		case errors.Is(err, models.ErrLedgerNotFound):
			log.Info("No ledger configured, resolving without billing")
		case errors.Is(err, models.ErrInsufficientBalance):
			p.rejectForBalance(ctx, attempt, sceneID, campaignID, exchangeNumber, cost)
			return
		default:
			p.fail(ctx, attempt, sceneID, campaignID, exchangeNumber, fmt.Sprintf("debit failed: %v", err))
			return
		}
	}

	// 4. Снапшот pending действий обмена, зафиксированного CAS-переходом
	actions, err := p.actionRepo.ListPendingByExchange(ctx, p.db, sceneID, exchangeNumber)
	if err != nil {
		p.fail(ctx, attempt, sceneID, campaignID, exchangeNumber, fmt.Sprintf("action snapshot failed: %v", err))
		return
	}
	if len(actions) == 0 {
		p.fail(ctx, attempt, sceneID, campaignID, exchangeNumber, "no pending actions at resolving exchange")
		return
	}

	// 5. Вызов резолвера с жестким потолком по времени. Результат, пришедший
	// после таймаута, отбрасывается settle-once guard-ом попытки.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.resolverTimeout)
	outcomeCh := make(chan resolveOutcome, 1)
	go func() {
		defer cancel()
		result, err := p.resolver.Resolve(callCtx, &interfaces.ResolveExchangeRequest{
			SceneID:        sceneID,
			CampaignID:     campaignID,
			ExchangeNumber: exchangeNumber,
			ExchangeState:  priorState,
			Actions:        actions,
		})
		outcomeCh <- resolveOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(p.resolverTimeout)
	defer timer.Stop()

	select {
	case out := <-outcomeCh:
		if out.err != nil {
			if attempt.trySettle() {
				p.refundAndRevert(ctx, attempt, sceneID, campaignID, exchangeNumber, fmt.Sprintf("resolver failed: %v", out.err))
			}
			return
		}
		if !attempt.trySettle() {
			log.Warn("Late resolver result discarded")
			return
		}
		p.applyOutcome(ctx, attempt, sceneID, campaignID, exchangeNumber, priorState, out.result)
	case <-timer.C:
		if attempt.trySettle() {
			p.refundAndRevert(ctx, attempt, sceneID, campaignID, exchangeNumber, "resolver timed out")
		}
	}
}

// rejectForBalance обрабатывает нехватку баланса: списания не было, поэтому
// возврата нет - только откат сцены и событие с точными цифрами.
func (p *ResolutionPipeline) rejectForBalance(ctx context.Context, attempt *resolutionAttempt, sceneID, campaignID uuid.UUID, exchangeNumber int, required int64) {
	if !attempt.trySettle() {
		return
	}
	var current int64
	if ledger, err := p.ledgerRepo.GetByCampaignID(ctx, p.db, campaignID); err == nil {
		current = ledger.Balance
	}

	p.revertScene(ctx, sceneID, exchangeNumber)
	p.broadcaster.BroadcastToScene(ctx, sceneID, campaignID, constants.WSEventAutoResolveFailed, models.AutoResolveFailedPayload{
		ExchangeNumber:  exchangeNumber,
		RequiredBalance: required,
		CurrentBalance:  current,
	})
	p.logger.Warn("Resolution rejected for insufficient balance",
		zap.Stringer("sceneID", sceneID),
		zap.Int64("required", required),
		zap.Int64("current", current))
}

// applyOutcome применяет успешный результат: carry-over состояние, resolved
// действия, следующий обмен с полным waiting-set. Вызывается только после
// выигранного trySettle.
func (p *ResolutionPipeline) applyOutcome(ctx context.Context, attempt *resolutionAttempt, sceneID, campaignID uuid.UUID, exchangeNumber int, priorState json.RawMessage, result *interfaces.ResolveExchangeResult) {
	newState := priorState
	if len(result.WorldStateDeltas) > 0 {
		newState = result.WorldStateDeltas
	}

	err := p.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		scene, err := p.sceneRepo.GetByID(ctx, tx, sceneID)
		if err != nil {
			return err
		}
		if _, err := p.actionRepo.MarkResolved(ctx, tx, sceneID, exchangeNumber); err != nil {
			return err
		}
		// Новый обмен снова ждет всех участников
		return p.sceneRepo.CompleteExchange(ctx, tx, sceneID, exchangeNumber, newState, scene.ParticipantUserIDs)
	})
	if err != nil {
		// Сцену сбросили, пока резолвер работал: списание осиротело, возвращаем.
		p.refundOnly(ctx, attempt, campaignID)
		p.broadcaster.BroadcastToScene(ctx, sceneID, campaignID, constants.WSEventResolutionFailed, models.ResolutionFailedPayload{
			ExchangeNumber: exchangeNumber,
			ErrorDetails:   fmt.Sprintf("outcome application failed: %v", err),
		})
		p.logger.Error("Failed to apply resolution outcome",
			zap.Stringer("sceneID", sceneID), zap.Error(err))
		return
	}

	p.broadcaster.BroadcastToScene(ctx, sceneID, campaignID, constants.WSEventResolved, models.ResolvedPayload{
		ExchangeNumber: exchangeNumber,
		Description:    result.Description,
	})
	p.logger.Info("Exchange resolved",
		zap.Stringer("sceneID", sceneID),
		zap.Int("exchangeNumber", exchangeNumber),
		zap.Int64("cost", attempt.deducted))
}

// fail фиксирует исход до вызова резолвера (настройки, снапшот, списание).
func (p *ResolutionPipeline) fail(ctx context.Context, attempt *resolutionAttempt, sceneID, campaignID uuid.UUID, exchangeNumber int, details string) {
	if !attempt.trySettle() {
		return
	}
	p.refundAndRevert(ctx, attempt, sceneID, campaignID, exchangeNumber, details)
}

// refundAndRevert - общий путь сбоя после (возможного) списания: вернуть
// ровно списанное, откатить сцену, оповестить. Вызывающий уже выиграл settle.
func (p *ResolutionPipeline) refundAndRevert(ctx context.Context, attempt *resolutionAttempt, sceneID, campaignID uuid.UUID, exchangeNumber int, details string) {
	p.refundOnly(ctx, attempt, campaignID)
	p.revertScene(ctx, sceneID, exchangeNumber)
	p.broadcaster.BroadcastToScene(ctx, sceneID, campaignID, constants.WSEventResolutionFailed, models.ResolutionFailedPayload{
		ExchangeNumber: exchangeNumber,
		ErrorDetails:   details,
	})
	p.logger.Warn("Resolution attempt failed",
		zap.Stringer("sceneID", sceneID),
		zap.Stringer("attemptID", attempt.id),
		zap.String("details", details))
}

// refundOnly возвращает ровно attempt.deducted. Повторный возврат той же
// попытки гасится уникальностью (attempt_id, entry_type) в хранилище.
func (p *ResolutionPipeline) refundOnly(ctx context.Context, attempt *resolutionAttempt, campaignID uuid.UUID) {
	if attempt.deducted <= 0 {
		return
	}
	err := p.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return p.ledgerRepo.Refund(ctx, tx, campaignID, attempt.id, attempt.deducted)
	})
	if err != nil && !errors.Is(err, models.ErrAlreadyRefunded) {
		p.logger.Error("CRITICAL: failed to refund resolution attempt",
			zap.Stringer("campaignID", campaignID),
			zap.Stringer("attemptID", attempt.id),
			zap.Int64("amount", attempt.deducted),
			zap.Error(err))
	}
}

func (p *ResolutionPipeline) revertScene(ctx context.Context, sceneID uuid.UUID, exchangeNumber int) {
	if err := p.sceneRepo.RevertToAwaiting(ctx, p.db, sceneID, exchangeNumber); err != nil && !errors.Is(err, models.ErrSceneNotFound) {
		p.logger.Error("Failed to revert scene to AWAITING_ACTIONS",
			zap.Stringer("sceneID", sceneID), zap.Error(err))
	}
}
