package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	sceneFields = `id, campaign_id, scene_number, status, open, current_exchange_number, participant_character_ids, participant_user_ids, waiting_on_user_ids, exchange_state, created_at, updated_at`

	insertSceneQuery = `
        INSERT INTO scenes
            (id, campaign_id, scene_number, status, open, current_exchange_number, participant_character_ids, participant_user_ids, waiting_on_user_ids, exchange_state, created_at, updated_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        RETURNING id
    `
	getSceneByIDQuery = `
        SELECT ` + sceneFields + `
        FROM scenes
        WHERE id = $1
    `
	// FOR UPDATE: регистрация участника исходит из заблокированной строки,
	// параллельные первые действия не затирают друг друга.
	getSceneByIDForUpdateQuery = `
        SELECT ` + sceneFields + `
        FROM scenes
        WHERE id = $1
        FOR UPDATE
    `
	listActiveScenesByCampaignQuery = `
        SELECT ` + sceneFields + `
        FROM scenes
        WHERE campaign_id = $1 AND status IN ('AWAITING_ACTIONS', 'RESOLVING')
        ORDER BY scene_number
    `
	findActiveSceneForCharacterQuery = `
        SELECT ` + sceneFields + `
        FROM scenes
        WHERE campaign_id = $1
          AND status IN ('AWAITING_ACTIONS', 'RESOLVING')
          AND $2 = ANY(participant_character_ids)
        LIMIT 1
    `
	nextSceneNumberQuery = `
        SELECT COALESCE(MAX(scene_number), 0) + 1 FROM scenes WHERE campaign_id = $1
    `
	updateParticipantsAndWaitingQuery = `
        UPDATE scenes SET
            participant_character_ids = $3,
            participant_user_ids = $4,
            waiting_on_user_ids = $5,
            updated_at = NOW()
        WHERE id = $1
          AND status = 'AWAITING_ACTIONS'
          AND current_exchange_number = $2
    `
)

// tryBeginResolutionQuery переводит сцену AWAITING_ACTIONS -> RESOLVING одной
// командой. Это единственная точка входа в резолюцию: кто выиграл этот
// UPDATE, тот и запускает пайплайн, все остальные проигрывают гонку.
const tryBeginResolutionQuery = `
        UPDATE scenes SET
            status = 'RESOLVING',
            updated_at = NOW()
        WHERE id = $1
          AND status = 'AWAITING_ACTIONS'
          AND current_exchange_number = $2
          AND ($3 = FALSE OR (cardinality(waiting_on_user_ids) = 0 AND cardinality(participant_user_ids) > 0))
    `

const (
	completeExchangeQuery = `
        UPDATE scenes SET
            status = 'AWAITING_ACTIONS',
            current_exchange_number = current_exchange_number + 1,
            exchange_state = $3,
            waiting_on_user_ids = $4,
            updated_at = NOW()
        WHERE id = $1
          AND status = 'RESOLVING'
          AND current_exchange_number = $2
    `
	revertToAwaitingQuery = `
        UPDATE scenes SET
            status = 'AWAITING_ACTIONS',
            updated_at = NOW()
        WHERE id = $1
          AND status = 'RESOLVING'
          AND current_exchange_number = $2
    `
	resetStuckSceneQuery = `
        UPDATE scenes SET
            status = 'AWAITING_ACTIONS',
            waiting_on_user_ids = '{}',
            exchange_state = NULL,
            updated_at = NOW()
        WHERE id = $1 AND status = 'RESOLVING'
        RETURNING current_exchange_number
    `
	markSceneCompletedQuery = `
        UPDATE scenes SET
            status = 'COMPLETED',
            waiting_on_user_ids = '{}',
            updated_at = NOW()
        WHERE id = $1 AND status = 'AWAITING_ACTIONS'
    `
)

// Compile-time check
var _ interfaces.SceneRepository = (*pgSceneRepository)(nil)

// pgSceneRepository is the PostgreSQL implementation of SceneRepository.
type pgSceneRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgSceneRepository creates a new repository instance.
func NewPgSceneRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.SceneRepository {
	return &pgSceneRepository{
		db:     db,
		logger: logger.Named("PgSceneRepo"),
	}
}

func (r *pgSceneRepository) Create(ctx context.Context, querier interfaces.DBTX, scene *models.Scene) (uuid.UUID, error) {
	if scene.ID == uuid.Nil {
		scene.ID = uuid.New()
	}
	now := time.Now().UTC()
	scene.CreatedAt = now
	scene.UpdatedAt = now

	var returnedID uuid.UUID
	err := querier.QueryRow(ctx, insertSceneQuery,
		scene.ID,
		scene.CampaignID,
		scene.SceneNumber,
		scene.Status,
		scene.Open,
		scene.CurrentExchangeNumber,
		scene.ParticipantCharacterIDs,
		scene.ParticipantUserIDs,
		scene.WaitingOnUserIDs,
		scene.ExchangeState,
		now,
	).Scan(&returnedID)
	if err != nil {
		r.logger.Error("Failed to insert scene",
			zap.String("campaignID", scene.CampaignID.String()), zap.Error(err))
		return uuid.Nil, fmt.Errorf("ошибка при создании сцены: %w", err)
	}

	r.logger.Info("Scene created",
		zap.String("sceneID", returnedID.String()),
		zap.String("campaignID", scene.CampaignID.String()),
		zap.Int("sceneNumber", scene.SceneNumber))
	return returnedID, nil
}

func (r *pgSceneRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Scene, error) {
	row := querier.QueryRow(ctx, getSceneByIDQuery, id)
	scene, err := scanScene(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSceneNotFound
		}
		r.logger.Error("Failed to get scene by ID", zap.String("sceneID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при получении сцены: %w", err)
	}
	return scene, nil
}

func (r *pgSceneRepository) GetByIDForUpdate(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Scene, error) {
	row := querier.QueryRow(ctx, getSceneByIDForUpdateQuery, id)
	scene, err := scanScene(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSceneNotFound
		}
		r.logger.Error("Failed to lock scene row", zap.String("sceneID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при блокировке строки сцены: %w", err)
	}
	return scene, nil
}

func (r *pgSceneRepository) ListActiveByCampaign(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) ([]*models.Scene, error) {
	rows, err := querier.Query(ctx, listActiveScenesByCampaignQuery, campaignID)
	if err != nil {
		r.logger.Error("Failed to list active scenes", zap.String("campaignID", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при списке активных сцен: %w", err)
	}
	defer rows.Close()

	var scenes []*models.Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при чтении строки сцены: %w", err)
		}
		scenes = append(scenes, scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по сценам: %w", err)
	}
	return scenes, nil
}

func (r *pgSceneRepository) FindActiveSceneForCharacter(ctx context.Context, querier interfaces.DBTX, campaignID, characterID uuid.UUID) (*models.Scene, error) {
	row := querier.QueryRow(ctx, findActiveSceneForCharacterQuery, campaignID, characterID)
	scene, err := scanScene(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSceneNotFound
		}
		r.logger.Error("Failed to find active scene for character",
			zap.String("campaignID", campaignID.String()),
			zap.String("characterID", characterID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при поиске активной сцены персонажа: %w", err)
	}
	return scene, nil
}

func (r *pgSceneRepository) NextSceneNumber(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) (int, error) {
	var next int
	if err := querier.QueryRow(ctx, nextSceneNumberQuery, campaignID).Scan(&next); err != nil {
		r.logger.Error("Failed to compute next scene number", zap.String("campaignID", campaignID.String()), zap.Error(err))
		return 0, fmt.Errorf("ошибка при вычислении номера сцены: %w", err)
	}
	return next, nil
}

func (r *pgSceneRepository) UpdateParticipantsAndWaiting(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int, characterIDs, userIDs, waiting []uuid.UUID) error {
	tag, err := querier.Exec(ctx, updateParticipantsAndWaitingQuery,
		sceneID, expectedExchange, characterIDs, userIDs, waiting)
	if err != nil {
		r.logger.Error("Failed to update participants and waiting list",
			zap.String("sceneID", sceneID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при обновлении участников сцены: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Сцена ушла в RESOLVING или номер обмена сменился между чтением и записью.
		return models.ErrSceneNotAcceptingActions
	}
	return nil
}

func (r *pgSceneRepository) TryBeginResolution(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int, requireAllActed bool) (bool, error) {
	tag, err := querier.Exec(ctx, tryBeginResolutionQuery, sceneID, expectedExchange, requireAllActed)
	if err != nil {
		r.logger.Error("Failed to attempt resolution transition",
			zap.String("sceneID", sceneID.String()),
			zap.Int("expectedExchange", expectedExchange), zap.Error(err))
		return false, fmt.Errorf("ошибка при переходе в RESOLVING: %w", err)
	}
	won := tag.RowsAffected() == 1
	if won {
		r.logger.Info("Scene transitioned to RESOLVING",
			zap.String("sceneID", sceneID.String()),
			zap.Int("exchangeNumber", expectedExchange))
	}
	return won, nil
}

func (r *pgSceneRepository) CompleteExchange(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int, exchangeState json.RawMessage, waiting []uuid.UUID) error {
	tag, err := querier.Exec(ctx, completeExchangeQuery, sceneID, expectedExchange, exchangeState, waiting)
	if err != nil {
		r.logger.Error("Failed to complete exchange",
			zap.String("sceneID", sceneID.String()),
			zap.Int("exchangeNumber", expectedExchange), zap.Error(err))
		return fmt.Errorf("ошибка при завершении обмена: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Сцена сброшена администратором, пока пайплайн был в полете.
		return models.ErrSceneNotFound
	}
	return nil
}

func (r *pgSceneRepository) RevertToAwaiting(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, expectedExchange int) error {
	tag, err := querier.Exec(ctx, revertToAwaitingQuery, sceneID, expectedExchange)
	if err != nil {
		r.logger.Error("Failed to revert scene to AWAITING_ACTIONS",
			zap.String("sceneID", sceneID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при возврате сцены в AWAITING_ACTIONS: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSceneNotFound
	}
	return nil
}

func (r *pgSceneRepository) ResetStuck(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) (int, error) {
	var exchangeNumber int
	err := querier.QueryRow(ctx, resetStuckSceneQuery, sceneID).Scan(&exchangeNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrSceneNotStuck
		}
		r.logger.Error("Failed to reset stuck scene", zap.String("sceneID", sceneID.String()), zap.Error(err))
		return 0, fmt.Errorf("ошибка при сбросе застрявшей сцены: %w", err)
	}
	r.logger.Warn("Stuck scene reset by administrator",
		zap.String("sceneID", sceneID.String()),
		zap.Int("exchangeNumber", exchangeNumber))
	return exchangeNumber, nil
}

func (r *pgSceneRepository) MarkCompleted(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID) error {
	tag, err := querier.Exec(ctx, markSceneCompletedQuery, sceneID)
	if err != nil {
		r.logger.Error("Failed to mark scene completed", zap.String("sceneID", sceneID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при закрытии сцены: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSceneNotAcceptingActions
	}
	return nil
}

// scanScene reads one scene row. Возвращает models.ErrNotFound на pgx.ErrNoRows.
func scanScene(row pgx.Row) (*models.Scene, error) {
	var s models.Scene
	err := row.Scan(
		&s.ID,
		&s.CampaignID,
		&s.SceneNumber,
		&s.Status,
		&s.Open,
		&s.CurrentExchangeNumber,
		&s.ParticipantCharacterIDs,
		&s.ParticipantUserIDs,
		&s.WaitingOnUserIDs,
		&s.ExchangeState,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
