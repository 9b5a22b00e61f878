package database

import (
	"context"
	"fmt"
	"time"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	playerActionFields = `id, scene_id, exchange_number, character_id, user_id, action_text, status, created_at`

	insertPlayerActionQuery = `
        INSERT INTO player_actions
            (id, scene_id, exchange_number, character_id, user_id, action_text, status, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	listPendingActionsByExchangeQuery = `
        SELECT ` + playerActionFields + `
        FROM player_actions
        WHERE scene_id = $1 AND exchange_number = $2 AND status = 'pending'
        ORDER BY created_at
    `
	listPendingUserIDsQuery = `
        SELECT DISTINCT user_id
        FROM player_actions
        WHERE scene_id = $1 AND exchange_number = $2 AND status = 'pending'
    `
	markActionsResolvedQuery = `
        UPDATE player_actions SET status = 'resolved'
        WHERE scene_id = $1 AND exchange_number = $2 AND status = 'pending'
    `
	deletePendingActionsQuery = `
        DELETE FROM player_actions
        WHERE scene_id = $1 AND exchange_number = $2 AND status = 'pending'
    `
)

// Compile-time check
var _ interfaces.PlayerActionRepository = (*pgPlayerActionRepository)(nil)

// pgPlayerActionRepository is the PostgreSQL implementation of PlayerActionRepository.
type pgPlayerActionRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgPlayerActionRepository creates a new repository instance.
func NewPgPlayerActionRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.PlayerActionRepository {
	return &pgPlayerActionRepository{
		db:     db,
		logger: logger.Named("PgPlayerActionRepo"),
	}
}

func (r *pgPlayerActionRepository) Create(ctx context.Context, querier interfaces.DBTX, action *models.PlayerAction) error {
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	if action.Status == "" {
		action.Status = models.ActionStatusPending
	}
	action.CreatedAt = time.Now().UTC()

	_, err := querier.Exec(ctx, insertPlayerActionQuery,
		action.ID,
		action.SceneID,
		action.ExchangeNumber,
		action.CharacterID,
		action.UserID,
		action.ActionText,
		action.Status,
		action.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert player action",
			zap.String("sceneID", action.SceneID.String()),
			zap.String("characterID", action.CharacterID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при сохранении действия игрока: %w", err)
	}
	return nil
}

func (r *pgPlayerActionRepository) ListPendingByExchange(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) ([]*models.PlayerAction, error) {
	rows, err := querier.Query(ctx, listPendingActionsByExchangeQuery, sceneID, exchangeNumber)
	if err != nil {
		r.logger.Error("Failed to list pending actions",
			zap.String("sceneID", sceneID.String()),
			zap.Int("exchangeNumber", exchangeNumber), zap.Error(err))
		return nil, fmt.Errorf("ошибка при списке pending действий: %w", err)
	}
	defer rows.Close()

	var actions []*models.PlayerAction
	for rows.Next() {
		var a models.PlayerAction
		if err := rows.Scan(&a.ID, &a.SceneID, &a.ExchangeNumber, &a.CharacterID, &a.UserID, &a.ActionText, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка при чтении строки действия: %w", err)
		}
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по действиям: %w", err)
	}
	return actions, nil
}

func (r *pgPlayerActionRepository) ListPendingUserIDs(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) ([]uuid.UUID, error) {
	rows, err := querier.Query(ctx, listPendingUserIDsQuery, sceneID, exchangeNumber)
	if err != nil {
		return nil, fmt.Errorf("ошибка при выборке user_id pending действий: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка при чтении user_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по user_id: %w", err)
	}
	return ids, nil
}

func (r *pgPlayerActionRepository) MarkResolved(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) (int64, error) {
	tag, err := querier.Exec(ctx, markActionsResolvedQuery, sceneID, exchangeNumber)
	if err != nil {
		r.logger.Error("Failed to mark actions resolved",
			zap.String("sceneID", sceneID.String()),
			zap.Int("exchangeNumber", exchangeNumber), zap.Error(err))
		return 0, fmt.Errorf("ошибка при пометке действий resolved: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgPlayerActionRepository) DeletePending(ctx context.Context, querier interfaces.DBTX, sceneID uuid.UUID, exchangeNumber int) (int64, error) {
	tag, err := querier.Exec(ctx, deletePendingActionsQuery, sceneID, exchangeNumber)
	if err != nil {
		r.logger.Error("Failed to delete pending actions",
			zap.String("sceneID", sceneID.String()),
			zap.Int("exchangeNumber", exchangeNumber), zap.Error(err))
		return 0, fmt.Errorf("ошибка при удалении pending действий: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.Warn("Pending actions deleted by administrative reset",
			zap.String("sceneID", sceneID.String()),
			zap.Int("exchangeNumber", exchangeNumber),
			zap.Int64("deleted", n))
		return n, nil
	}
	return 0, nil
}
