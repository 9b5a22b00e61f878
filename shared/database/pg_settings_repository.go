package database

import (
	"context"
	"errors"
	"fmt"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	getSceneSettingsQuery = `
        SELECT campaign_id, resolution_cost, cost_per_participant, turn_timeout_seconds, reminder_thresholds, starting_balance, max_scene_participants, updated_at
        FROM scene_settings
        WHERE campaign_id = $1
    `
	upsertSceneSettingsQuery = `
        INSERT INTO scene_settings
            (campaign_id, resolution_cost, cost_per_participant, turn_timeout_seconds, reminder_thresholds, starting_balance, max_scene_participants, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
        ON CONFLICT (campaign_id) DO UPDATE SET
            resolution_cost = EXCLUDED.resolution_cost,
            cost_per_participant = EXCLUDED.cost_per_participant,
            turn_timeout_seconds = EXCLUDED.turn_timeout_seconds,
            reminder_thresholds = EXCLUDED.reminder_thresholds,
            starting_balance = EXCLUDED.starting_balance,
            max_scene_participants = EXCLUDED.max_scene_participants,
            updated_at = NOW()
    `
)

// Compile-time check
var _ interfaces.SettingsRepository = (*pgSettingsRepository)(nil)

// pgSettingsRepository is the PostgreSQL implementation of SettingsRepository.
type pgSettingsRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgSettingsRepository creates a new repository instance.
func NewPgSettingsRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.SettingsRepository {
	return &pgSettingsRepository{
		db:     db,
		logger: logger.Named("PgSettingsRepo"),
	}
}

func (r *pgSettingsRepository) GetByCampaignID(ctx context.Context, querier interfaces.DBTX, campaignID uuid.UUID) (*models.SceneSettings, error) {
	var settings models.SceneSettings
	err := pgxscan.Get(ctx, querier, &settings, getSceneSettingsQuery, campaignID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Кампания еще не настраивалась - работаем на дефолтах.
			return models.DefaultSceneSettings(campaignID), nil
		}
		r.logger.Error("Failed to get scene settings", zap.String("campaignID", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка при получении настроек сцен: %w", err)
	}
	return &settings, nil
}

func (r *pgSettingsRepository) Upsert(ctx context.Context, querier interfaces.DBTX, settings *models.SceneSettings) error {
	_, err := querier.Exec(ctx, upsertSceneSettingsQuery,
		settings.CampaignID,
		settings.ResolutionCost,
		settings.CostPerParticipant,
		settings.TurnTimeoutSeconds,
		settings.ReminderThresholds,
		settings.StartingBalance,
		settings.MaxSceneParticipant,
	)
	if err != nil {
		r.logger.Error("Failed to upsert scene settings", zap.String("campaignID", settings.CampaignID.String()), zap.Error(err))
		return fmt.Errorf("ошибка при сохранении настроек сцен: %w", err)
	}
	r.logger.Info("Scene settings updated", zap.String("campaignID", settings.CampaignID.String()))
	return nil
}
