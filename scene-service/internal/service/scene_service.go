package service

import (
	"context"
	"errors"
	"strings"

	"scene-server/shared/constants"
	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SceneService defines the coordination surface for multiplayer scenes.
type SceneService interface {
	// CreateScene starts a new scene in the campaign. GM only.
	// open=true makes every action its own single-participant exchange.
	CreateScene(ctx context.Context, campaignID, gmUserID uuid.UUID, open bool) (*models.Scene, error)

	// SubmitAction persists a pending action for the character at the scene's
	// current exchange and recomputes the waiting list in the same
	// transaction. Returns as soon as the action is durable; resolution (if
	// the exchange completed) runs detached.
	SubmitAction(ctx context.Context, sceneID, characterID, userID uuid.UUID, actionText string) (*models.Scene, error)

	// GetScene returns a single scene. Campaign members only.
	GetScene(ctx context.Context, sceneID, userID uuid.UUID) (*models.Scene, error)

	// GetActiveScenes lists the campaign's scenes still in play. Members only.
	GetActiveScenes(ctx context.Context, campaignID, userID uuid.UUID) ([]*models.Scene, error)

	// EndScene closes the scene. GM only; valid only from AWAITING_ACTIONS.
	EndScene(ctx context.Context, sceneID, gmUserID uuid.UUID) error

	// ForceCompleteExchange starts resolution for the current exchange even
	// though not everyone acted. GM only. ErrNoPendingActions when the
	// exchange has nothing to resolve.
	ForceCompleteExchange(ctx context.Context, sceneID, gmUserID uuid.UUID) error

	// ResetStuckScene is the administrative escape hatch for a scene stuck in
	// RESOLVING: drops the in-flight exchange's pending actions, clears the
	// waiting list and carry-over state and returns to AWAITING_ACTIONS.
	ResetStuckScene(ctx context.Context, sceneID, adminUserID uuid.UUID) error

	// GetCampaignLedger returns the campaign's resource ledger. Members only.
	GetCampaignLedger(ctx context.Context, campaignID, userID uuid.UUID) (*models.CampaignLedger, error)

	// ListLedgerEntries returns the campaign's newest audit entries. GM only.
	ListLedgerEntries(ctx context.Context, campaignID, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)

	// TopUpLedger credits the campaign ledger. Admin only.
	TopUpLedger(ctx context.Context, campaignID, adminUserID uuid.UUID, amount int64) (*models.CampaignLedger, error)

	// GetSettings returns the campaign's scene settings (defaults when unset).
	GetSettings(ctx context.Context, campaignID, userID uuid.UUID) (*models.SceneSettings, error)

	// UpdateSettings replaces the campaign's scene settings. GM only.
	UpdateSettings(ctx context.Context, userID uuid.UUID, settings *models.SceneSettings) error
}

type sceneServiceImpl struct {
	db          interfaces.DBTX
	txRunner    interfaces.TxRunner
	sceneRepo   interfaces.SceneRepository
	actionRepo  interfaces.PlayerActionRepository
	turnRepo    interfaces.TurnStateRepository
	ledgerRepo  interfaces.LedgerRepository
	settings    interfaces.SettingsRepository
	campaigns   interfaces.CampaignServiceClient
	broadcaster interfaces.SceneBroadcaster
	pipeline    *ResolutionPipeline
	logger      *zap.Logger
}

// NewSceneService creates a new instance of SceneService.
func NewSceneService(
	db interfaces.DBTX,
	txRunner interfaces.TxRunner,
	sceneRepo interfaces.SceneRepository,
	actionRepo interfaces.PlayerActionRepository,
	turnRepo interfaces.TurnStateRepository,
	ledgerRepo interfaces.LedgerRepository,
	settings interfaces.SettingsRepository,
	campaigns interfaces.CampaignServiceClient,
	broadcaster interfaces.SceneBroadcaster,
	pipeline *ResolutionPipeline,
	logger *zap.Logger,
) SceneService {
	return &sceneServiceImpl{
		db:          db,
		txRunner:    txRunner,
		sceneRepo:   sceneRepo,
		actionRepo:  actionRepo,
		turnRepo:    turnRepo,
		ledgerRepo:  ledgerRepo,
		settings:    settings,
		campaigns:   campaigns,
		broadcaster: broadcaster,
		pipeline:    pipeline,
		logger:      logger.Named("SceneService"),
	}
}

func (s *sceneServiceImpl) CreateScene(ctx context.Context, campaignID, gmUserID uuid.UUID, open bool) (*models.Scene, error) {
	log := s.logger.With(zap.Stringer("campaignID", campaignID), zap.Stringer("userID", gmUserID))

	// 1. Только мастер кампании заводит сцены
	if err := s.requireGameMaster(ctx, campaignID, gmUserID); err != nil {
		return nil, err
	}

	// 2. Заводим леджер кампании, если его еще нет (стартовый баланс из настроек)
	cfg, err := s.settings.GetByCampaignID(ctx, s.db, campaignID)
	if err != nil {
		return nil, err
	}
	ownerID, err := s.campaigns.GetCampaignOwner(ctx, campaignID)
	if err != nil {
		log.Error("Failed to resolve campaign owner", zap.Error(err))
		return nil, models.ErrInternalServer
	}
	if err := s.ledgerRepo.CreateIfAbsent(ctx, s.db, campaignID, ownerID, cfg.StartingBalance); err != nil {
		return nil, err
	}

	// 3. Создаем сцену со следующим номером
	number, err := s.sceneRepo.NextSceneNumber(ctx, s.db, campaignID)
	if err != nil {
		return nil, err
	}
	scene := &models.Scene{
		CampaignID:              campaignID,
		SceneNumber:             number,
		Status:                  models.SceneStatusAwaitingActions,
		Open:                    open,
		CurrentExchangeNumber:   1,
		ParticipantCharacterIDs: []uuid.UUID{},
		ParticipantUserIDs:      []uuid.UUID{},
		WaitingOnUserIDs:        []uuid.UUID{},
	}
	if _, err := s.sceneRepo.Create(ctx, s.db, scene); err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastToCampaign(ctx, campaignID, constants.WSEventSceneCreated, scene)
	log.Info("Scene created", zap.Stringer("sceneID", scene.ID), zap.Int("sceneNumber", number))
	return scene, nil
}

func (s *sceneServiceImpl) SubmitAction(ctx context.Context, sceneID, characterID, userID uuid.UUID, actionText string) (*models.Scene, error) {
	log := s.logger.With(
		zap.Stringer("sceneID", sceneID),
		zap.Stringer("characterID", characterID),
		zap.Stringer("userID", userID))

	if strings.TrimSpace(actionText) == "" {
		return nil, models.ErrInvalidInput
	}

	// 1. Сцена должна принимать действия
	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return nil, err
	}
	switch scene.Status {
	case models.SceneStatusAwaitingActions:
		// продолжаем
	case models.SceneStatusCompleted:
		return nil, models.ErrSceneAlreadyClosed
	default:
		return nil, models.ErrSceneNotAcceptingActions
	}

	// 2. Персонаж должен принадлежать пользователю в этой кампании
	owns, err := s.campaigns.IsCharacterOwner(ctx, scene.CampaignID, userID, characterID)
	if err != nil {
		log.Error("Failed to check character ownership", zap.Error(err))
		return nil, models.ErrInternalServer
	}
	if !owns {
		return nil, models.ErrCharacterNotOwned
	}

	// 3. Персонаж может состоять максимум в одной активной сцене кампании
	if !scene.HasParticipantCharacter(characterID) {
		other, err := s.sceneRepo.FindActiveSceneForCharacter(ctx, s.db, scene.CampaignID, characterID)
		if err != nil && !errors.Is(err, models.ErrSceneNotFound) {
			return nil, err
		}
		if other != nil && other.ID != sceneID {
			return nil, models.ErrCharacterAlreadyInActiveScene
		}
	}

	// 4. При включенном порядке ходов действовать может только текущий актор
	turnState, err := s.turnRepo.GetBySceneID(ctx, s.db, sceneID)
	if err != nil && !errors.Is(err, models.ErrTurnOrderNotEnabled) {
		return nil, err
	}
	if turnState != nil && len(turnState.ActorUserIDs) > 0 && turnState.CurrentUserID() != userID {
		return nil, models.ErrNotYourTurn
	}

	// 5. Одна транзакция: действие + участники + авторитетный waiting-set.
	// Состояние строки читается заново под блокировкой: снимок из шага 1 мог
	// устареть, и регистрация, вычисленная по нему, затерла бы параллельную.
	action := &models.PlayerAction{
		SceneID:     sceneID,
		CharacterID: characterID,
		UserID:      userID,
		ActionText:  actionText,
		Status:      models.ActionStatusPending,
	}
	var (
		expectedExchange  int
		waiting           []uuid.UUID
		participantsChars []uuid.UUID
		participantsUsers []uuid.UUID
	)
	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		locked, err := s.sceneRepo.GetByIDForUpdate(ctx, tx, sceneID)
		if err != nil {
			return err
		}
		if locked.Status != models.SceneStatusAwaitingActions {
			return models.ErrSceneNotAcceptingActions
		}
		expectedExchange = locked.CurrentExchangeNumber

		participantsChars = locked.ParticipantCharacterIDs
		participantsUsers = locked.ParticipantUserIDs
		if !locked.HasParticipantCharacter(characterID) {
			cfg, err := s.settings.GetByCampaignID(ctx, tx, locked.CampaignID)
			if err != nil {
				return err
			}
			if cfg.MaxSceneParticipant > 0 && len(participantsChars) >= cfg.MaxSceneParticipant {
				return models.ErrSceneFull
			}
			participantsChars = append(participantsChars, characterID)
		}
		if !locked.HasParticipantUser(userID) {
			participantsUsers = append(participantsUsers, userID)
		}

		action.ExchangeNumber = expectedExchange
		if err := s.actionRepo.Create(ctx, tx, action); err != nil {
			return err
		}
		acted, err := s.actionRepo.ListPendingUserIDs(ctx, tx, sceneID, expectedExchange)
		if err != nil {
			return err
		}
		waiting = models.RecomputeWaiting(participantsUsers, acted)
		return s.sceneRepo.UpdateParticipantsAndWaiting(ctx, tx, sceneID, expectedExchange, participantsChars, participantsUsers, waiting)
	})
	if err != nil {
		return nil, err
	}
	scene.CurrentExchangeNumber = expectedExchange

	scene.ParticipantCharacterIDs = participantsChars
	scene.ParticipantUserIDs = participantsUsers
	scene.WaitingOnUserIDs = waiting

	s.broadcaster.BroadcastToScene(ctx, sceneID, scene.CampaignID, constants.WSEventActionCreated, models.ActionCreatedPayload{
		ExchangeNumber:   expectedExchange,
		CharacterID:      characterID,
		UserID:           userID,
		WaitingOnUserIDs: waiting,
	})
	log.Info("Player action submitted",
		zap.Int("exchangeNumber", expectedExchange),
		zap.Int("stillWaiting", len(waiting)))

	// 6. Координатор: на открытой сцене каждое действие - свой обмен, на
	// обычной переход выигрывается только при пустом waiting-set. CAS в базе
	// гарантирует единственного победителя.
	s.maybeStartResolution(ctx, scene, expectedExchange)

	return scene, nil
}

// maybeStartResolution пытается перевести сцену в RESOLVING и, выиграв
// переход, запускает отсоединенный пайплайн. Проигранная гонка - не ошибка.
func (s *sceneServiceImpl) maybeStartResolution(ctx context.Context, scene *models.Scene, exchangeNumber int) {
	requireAllActed := !scene.Open
	won, err := s.sceneRepo.TryBeginResolution(ctx, s.db, scene.ID, exchangeNumber, requireAllActed)
	if err != nil {
		s.logger.Error("Resolution transition attempt failed",
			zap.Stringer("sceneID", scene.ID), zap.Error(err))
		return
	}
	if !won {
		return
	}

	s.broadcaster.BroadcastToScene(ctx, scene.ID, scene.CampaignID, constants.WSEventSceneResolving, map[string]int{
		"exchange_number": exchangeNumber,
	})
	if err := s.pipeline.Launch(ctx, scene, exchangeNumber); err != nil {
		// Задача не встала в очередь: откатываем статус, действия останутся pending.
		s.logger.Error("Failed to launch resolution pipeline, reverting scene",
			zap.Stringer("sceneID", scene.ID), zap.Error(err))
		if revertErr := s.sceneRepo.RevertToAwaiting(ctx, s.db, scene.ID, exchangeNumber); revertErr != nil {
			s.logger.Error("Failed to revert scene after launch failure",
				zap.Stringer("sceneID", scene.ID), zap.Error(revertErr))
		}
	}
}

func (s *sceneServiceImpl) GetScene(ctx context.Context, sceneID, userID uuid.UUID) (*models.Scene, error) {
	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, scene.CampaignID, userID); err != nil {
		return nil, err
	}
	return scene, nil
}

func (s *sceneServiceImpl) GetActiveScenes(ctx context.Context, campaignID, userID uuid.UUID) ([]*models.Scene, error) {
	if err := s.requireMember(ctx, campaignID, userID); err != nil {
		return nil, err
	}
	return s.sceneRepo.ListActiveByCampaign(ctx, s.db, campaignID)
}

func (s *sceneServiceImpl) EndScene(ctx context.Context, sceneID, gmUserID uuid.UUID) error {
	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return err
	}
	if err := s.requireGameMaster(ctx, scene.CampaignID, gmUserID); err != nil {
		return err
	}

	if err := s.sceneRepo.MarkCompleted(ctx, s.db, sceneID); err != nil {
		return err
	}
	// Трекер ходов закрытой сцене больше не нужен
	if err := s.turnRepo.DeleteBySceneID(ctx, s.db, sceneID); err != nil {
		s.logger.Warn("Failed to delete turn state of completed scene",
			zap.Stringer("sceneID", sceneID), zap.Error(err))
	}

	s.broadcaster.BroadcastToScene(ctx, sceneID, scene.CampaignID, constants.WSEventSceneCompleted, nil)
	s.logger.Info("Scene completed", zap.Stringer("sceneID", sceneID), zap.Stringer("gmUserID", gmUserID))
	return nil
}

func (s *sceneServiceImpl) ForceCompleteExchange(ctx context.Context, sceneID, gmUserID uuid.UUID) error {
	log := s.logger.With(zap.Stringer("sceneID", sceneID), zap.Stringer("userID", gmUserID))

	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return err
	}
	if err := s.requireGameMaster(ctx, scene.CampaignID, gmUserID); err != nil {
		return err
	}

	// 1. Нечего резолвить без pending действий
	pending, err := s.actionRepo.ListPendingByExchange(ctx, s.db, sceneID, scene.CurrentExchangeNumber)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return models.ErrNoPendingActions
	}

	// 2. CAS без требования пустого waiting-set
	won, err := s.sceneRepo.TryBeginResolution(ctx, s.db, sceneID, scene.CurrentExchangeNumber, false)
	if err != nil {
		return err
	}
	if !won {
		// Кто-то уже в RESOLVING (или обмен сдвинулся)
		return models.ErrExchangeInFlight
	}

	s.broadcaster.BroadcastToScene(ctx, sceneID, scene.CampaignID, constants.WSEventSceneResolving, map[string]int{
		"exchange_number": scene.CurrentExchangeNumber,
	})
	if err := s.pipeline.Launch(ctx, scene, scene.CurrentExchangeNumber); err != nil {
		log.Error("Failed to launch forced resolution, reverting scene", zap.Error(err))
		if revertErr := s.sceneRepo.RevertToAwaiting(ctx, s.db, sceneID, scene.CurrentExchangeNumber); revertErr != nil {
			log.Error("Failed to revert scene after launch failure", zap.Error(revertErr))
		}
		return models.ErrInternalServer
	}

	log.Info("Exchange force-completed by game master", zap.Int("exchangeNumber", scene.CurrentExchangeNumber))
	return nil
}

func (s *sceneServiceImpl) ResetStuckScene(ctx context.Context, sceneID, adminUserID uuid.UUID) error {
	log := s.logger.With(zap.Stringer("sceneID", sceneID), zap.Stringer("adminUserID", adminUserID))

	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return err
	}
	if err := s.requireGameMaster(ctx, scene.CampaignID, adminUserID); err != nil {
		return err
	}

	err = s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		exchange, err := s.sceneRepo.ResetStuck(ctx, tx, sceneID)
		if err != nil {
			return err
		}
		// Единственное место, где pending действия уничтожаются
		_, err = s.actionRepo.DeletePending(ctx, tx, sceneID, exchange)
		return err
	})
	if err != nil {
		return err
	}

	s.broadcaster.BroadcastToScene(ctx, sceneID, scene.CampaignID, constants.WSEventSceneReset, nil)
	log.Warn("Stuck scene reset")
	return nil
}

func (s *sceneServiceImpl) GetCampaignLedger(ctx context.Context, campaignID, userID uuid.UUID) (*models.CampaignLedger, error) {
	if err := s.requireMember(ctx, campaignID, userID); err != nil {
		return nil, err
	}
	return s.ledgerRepo.GetByCampaignID(ctx, s.db, campaignID)
}

func (s *sceneServiceImpl) ListLedgerEntries(ctx context.Context, campaignID, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if err := s.requireGameMaster(ctx, campaignID, userID); err != nil {
		return nil, err
	}
	return s.ledgerRepo.ListEntries(ctx, s.db, campaignID, limit)
}

func (s *sceneServiceImpl) TopUpLedger(ctx context.Context, campaignID, adminUserID uuid.UUID, amount int64) (*models.CampaignLedger, error) {
	if amount <= 0 {
		return nil, models.ErrInvalidInput
	}
	if err := s.requireGameMaster(ctx, campaignID, adminUserID); err != nil {
		return nil, err
	}

	err := s.txRunner.WithTransaction(ctx, func(ctx context.Context, tx interfaces.DBTX) error {
		return s.ledgerRepo.Credit(ctx, tx, campaignID, uuid.New(), amount)
	})
	if err != nil {
		return nil, err
	}
	return s.ledgerRepo.GetByCampaignID(ctx, s.db, campaignID)
}

func (s *sceneServiceImpl) GetSettings(ctx context.Context, campaignID, userID uuid.UUID) (*models.SceneSettings, error) {
	if err := s.requireMember(ctx, campaignID, userID); err != nil {
		return nil, err
	}
	return s.settings.GetByCampaignID(ctx, s.db, campaignID)
}

func (s *sceneServiceImpl) UpdateSettings(ctx context.Context, userID uuid.UUID, settings *models.SceneSettings) error {
	if settings == nil || settings.CampaignID == uuid.Nil {
		return models.ErrInvalidInput
	}
	if err := s.requireGameMaster(ctx, settings.CampaignID, userID); err != nil {
		return err
	}
	return s.settings.Upsert(ctx, s.db, settings)
}

// requireMember возвращает ErrForbidden, если пользователь не состоит в кампании.
func (s *sceneServiceImpl) requireMember(ctx context.Context, campaignID, userID uuid.UUID) error {
	member, err := s.campaigns.IsCampaignMember(ctx, campaignID, userID)
	if err != nil {
		s.logger.Error("Failed to check campaign membership",
			zap.Stringer("campaignID", campaignID), zap.Error(err))
		return models.ErrInternalServer
	}
	if !member {
		return models.ErrForbidden
	}
	return nil
}

// requireGameMaster возвращает ErrForbidden, если пользователь не мастер кампании.
func (s *sceneServiceImpl) requireGameMaster(ctx context.Context, campaignID, userID uuid.UUID) error {
	role, err := s.campaigns.GetMemberRole(ctx, campaignID, userID)
	if err != nil {
		if errors.Is(err, models.ErrForbidden) || errors.Is(err, models.ErrNotFound) {
			return models.ErrForbidden
		}
		s.logger.Error("Failed to check campaign role",
			zap.Stringer("campaignID", campaignID), zap.Error(err))
		return models.ErrInternalServer
	}
	if role != models.RoleGameMaster && role != models.RoleAdmin {
		return models.ErrForbidden
	}
	return nil
}
