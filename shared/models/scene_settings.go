package models

import (
	"time"

	"github.com/google/uuid"
)

// Настройки сцен на уровне похода. Хранятся одной строкой на campaign_id;
// отсутствие строки трактуется как значения по умолчанию.
type SceneSettings struct {
	CampaignID          uuid.UUID `db:"campaign_id" json:"campaignId"`
	ResolutionCost      int64     `db:"resolution_cost" json:"resolutionCost"`
	CostPerParticipant  int64     `db:"cost_per_participant" json:"costPerParticipant"`
	TurnTimeoutSeconds  int       `db:"turn_timeout_seconds" json:"turnTimeoutSeconds"`
	ReminderThresholds  []int     `db:"reminder_thresholds" json:"reminderThresholds"`
	StartingBalance     int64     `db:"starting_balance" json:"startingBalance"`
	MaxSceneParticipant int       `db:"max_scene_participants" json:"maxSceneParticipants"`
	UpdatedAt           time.Time `db:"updated_at" json:"updatedAt"`
}

// ResolutionCostFor возвращает стоимость одной попытки резолюции для
// сцены с данным числом участников.
func (s *SceneSettings) ResolutionCostFor(participants int) int64 {
	cost := s.ResolutionCost + s.CostPerParticipant*int64(participants)
	if cost < 0 {
		return 0
	}
	return cost
}

// DefaultSceneSettings возвращает настройки, действующие до первой записи.
func DefaultSceneSettings(campaignID uuid.UUID) *SceneSettings {
	return &SceneSettings{
		CampaignID:          campaignID,
		ResolutionCost:      1,
		CostPerParticipant:  0,
		TurnTimeoutSeconds:  0, // 0 — без дедлайна хода
		ReminderThresholds:  nil,
		StartingBalance:     100,
		MaxSceneParticipant: 8,
	}
}
