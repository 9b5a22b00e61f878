package interfaces

import (
	"context"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// SettingsRepository defines storage access for per-campaign scene settings.
//
//go:generate mockery --name SettingsRepository --output ./mocks --outpkg mocks --case=underscore
type SettingsRepository interface {
	// GetByCampaignID returns the settings of the campaign. Когда записи нет,
	// возвращаются значения по умолчанию (models.DefaultSceneSettings).
	GetByCampaignID(ctx context.Context, querier DBTX, campaignID uuid.UUID) (*models.SceneSettings, error)

	// Upsert creates or replaces the settings of the campaign.
	Upsert(ctx context.Context, querier DBTX, settings *models.SceneSettings) error
}
