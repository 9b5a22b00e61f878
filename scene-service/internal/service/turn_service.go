package service

import (
	"context"
	"errors"
	"time"

	"scene-server/shared/constants"
	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TurnService manages the optional strict turn order on top of a scene.
type TurnService interface {
	// EnableTurnOrder fixes the scene's current participants as the turn
	// roster. GM only. timeoutSeconds<=0 falls back to the campaign's
	// configured turn timeout; zero there as well disables the deadline clock.
	EnableTurnOrder(ctx context.Context, sceneID, gmUserID uuid.UUID, timeoutSeconds int) (*models.TurnInfo, error)

	// AdvanceTurn passes the turn to the next roster actor. Allowed for the
	// current actor and the GM. Lost CAS races are absorbed as no-ops.
	AdvanceTurn(ctx context.Context, sceneID, userID uuid.UUID) (*models.TurnInfo, error)

	// SkipTurn advances the turn over the current actor. GM only.
	SkipTurn(ctx context.Context, sceneID, gmUserID uuid.UUID) (*models.TurnInfo, error)

	// GetTurnInfo is a pure read projection, no side effects.
	GetTurnInfo(ctx context.Context, sceneID, userID uuid.UUID) (*models.TurnInfo, error)
}

type turnServiceImpl struct {
	db          interfaces.DBTX
	sceneRepo   interfaces.SceneRepository
	turnRepo    interfaces.TurnStateRepository
	settings    interfaces.SettingsRepository
	campaigns   interfaces.CampaignServiceClient
	broadcaster interfaces.SceneBroadcaster
	now         func() time.Time
	logger      *zap.Logger
}

// NewTurnService creates a new instance of TurnService.
func NewTurnService(
	db interfaces.DBTX,
	sceneRepo interfaces.SceneRepository,
	turnRepo interfaces.TurnStateRepository,
	settings interfaces.SettingsRepository,
	campaigns interfaces.CampaignServiceClient,
	broadcaster interfaces.SceneBroadcaster,
	logger *zap.Logger,
) TurnService {
	return &turnServiceImpl{
		db:          db,
		sceneRepo:   sceneRepo,
		turnRepo:    turnRepo,
		settings:    settings,
		campaigns:   campaigns,
		broadcaster: broadcaster,
		now:         time.Now,
		logger:      logger.Named("TurnService"),
	}
}

func (s *turnServiceImpl) EnableTurnOrder(ctx context.Context, sceneID, gmUserID uuid.UUID, timeoutSeconds int) (*models.TurnInfo, error) {
	log := s.logger.With(zap.Stringer("sceneID", sceneID), zap.Stringer("userID", gmUserID))

	// 1. Сцена активна, вызывающий - мастер
	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return nil, err
	}
	if err := s.requireGameMaster(ctx, scene.CampaignID, gmUserID); err != nil {
		return nil, err
	}
	if !scene.IsActive() {
		return nil, models.ErrSceneAlreadyClosed
	}
	// Ростер фиксируется из текущих участников, порядок - порядок вступления
	if len(scene.ParticipantUserIDs) == 0 {
		return nil, models.ErrInvalidInput
	}

	// Таймаут из запроса, иначе кампанийный дефолт
	if timeoutSeconds <= 0 {
		cfg, err := s.settings.GetByCampaignID(ctx, s.db, scene.CampaignID)
		if err != nil {
			return nil, err
		}
		timeoutSeconds = cfg.TurnTimeoutSeconds
	}

	now := s.now().UTC()
	state := &models.TurnState{
		SceneID:           sceneID,
		ActorUserIDs:      scene.ParticipantUserIDs,
		ActorCharacterIDs: scene.ParticipantCharacterIDs,
		CurrentIndex:      0,
		TurnStartedAt:     now,
		TimeoutSeconds:    timeoutSeconds,
	}
	if timeoutSeconds > 0 {
		state.TurnDeadline = now.Add(time.Duration(timeoutSeconds) * time.Second)
	}
	if err := s.turnRepo.Create(ctx, s.db, state); err != nil {
		return nil, err
	}

	info := state.Project(now)
	s.broadcastTurnEvent(ctx, scene, constants.WSEventTurnAdvanced, state)
	log.Info("Turn order enabled",
		zap.Int("rosterSize", len(state.ActorUserIDs)),
		zap.Int("timeoutSeconds", timeoutSeconds))
	return info, nil
}

func (s *turnServiceImpl) AdvanceTurn(ctx context.Context, sceneID, userID uuid.UUID) (*models.TurnInfo, error) {
	scene, state, err := s.loadSceneAndState(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	// Передать ход может текущий актор или мастер
	if state.CurrentUserID() != userID {
		if err := s.requireGameMaster(ctx, scene.CampaignID, userID); err != nil {
			if errors.Is(err, models.ErrForbidden) {
				return nil, models.ErrNotYourTurn
			}
			return nil, err
		}
	}

	return s.advance(ctx, scene, state, constants.WSEventTurnAdvanced)
}

func (s *turnServiceImpl) SkipTurn(ctx context.Context, sceneID, gmUserID uuid.UUID) (*models.TurnInfo, error) {
	scene, state, err := s.loadSceneAndState(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if err := s.requireGameMaster(ctx, scene.CampaignID, gmUserID); err != nil {
		return nil, err
	}

	info, err := s.advance(ctx, scene, state, constants.WSEventTurnSkipped)
	if err == nil {
		s.logger.Info("Turn skipped by game master",
			zap.Stringer("sceneID", sceneID),
			zap.Stringer("skippedUserID", state.CurrentUserID()))
	}
	return info, err
}

func (s *turnServiceImpl) GetTurnInfo(ctx context.Context, sceneID, userID uuid.UUID) (*models.TurnInfo, error) {
	scene, state, err := s.loadSceneAndState(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, scene.CampaignID, userID); err != nil {
		return nil, err
	}
	return state.Project(s.now().UTC()), nil
}

// advance двигает индекс по кругу через CAS. Проигранная гонка - ход уже
// передан кем-то другим - возвращает свежую проекцию без ошибки.
func (s *turnServiceImpl) advance(ctx context.Context, scene *models.Scene, state *models.TurnState, eventType string) (*models.TurnInfo, error) {
	now := s.now().UTC()
	var deadline time.Time
	if state.TimeoutSeconds > 0 {
		deadline = now.Add(time.Duration(state.TimeoutSeconds) * time.Second)
	}

	moved, err := s.turnRepo.AdvanceTurn(ctx, s.db, scene.ID, state.CurrentIndex, state.NextIndex(), now, deadline)
	if err != nil {
		return nil, err
	}

	fresh, err := s.turnRepo.GetBySceneID(ctx, s.db, scene.ID)
	if err != nil {
		return nil, err
	}
	if moved {
		s.broadcastTurnEvent(ctx, scene, eventType, fresh)
	}
	return fresh.Project(now), nil
}

func (s *turnServiceImpl) loadSceneAndState(ctx context.Context, sceneID uuid.UUID) (*models.Scene, *models.TurnState, error) {
	scene, err := s.sceneRepo.GetByID(ctx, s.db, sceneID)
	if err != nil {
		return nil, nil, err
	}
	state, err := s.turnRepo.GetBySceneID(ctx, s.db, sceneID)
	if err != nil {
		return nil, nil, err
	}
	return scene, state, nil
}

func (s *turnServiceImpl) broadcastTurnEvent(ctx context.Context, scene *models.Scene, eventType string, state *models.TurnState) {
	payload := models.TurnEventPayload{
		CurrentUserID: state.CurrentUserID(),
		CurrentIndex:  state.CurrentIndex,
	}
	if !state.TurnDeadline.IsZero() {
		payload.TurnDeadline = state.TurnDeadline.Format(time.RFC3339)
		payload.RemainingSeconds = int64(state.Remaining(s.now().UTC()) / time.Second)
	}
	s.broadcaster.BroadcastToScene(ctx, scene.ID, scene.CampaignID, eventType, payload)
}

func (s *turnServiceImpl) requireMember(ctx context.Context, campaignID, userID uuid.UUID) error {
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

func (s *turnServiceImpl) requireGameMaster(ctx context.Context, campaignID, userID uuid.UUID) error {
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
