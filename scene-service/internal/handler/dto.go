package handler

// submitActionRequest - тело POST /scenes/:scene_id/actions.
type submitActionRequest struct {
	CharacterID string `json:"character_id" binding:"required,uuid"`
	ActionText  string `json:"action_text" binding:"required"`
}

// createSceneRequest - тело POST /campaigns/:campaign_id/scenes.
type createSceneRequest struct {
	Open bool `json:"open"`
}

// enableTurnOrderRequest - тело POST /scenes/:scene_id/turn/enable.
type enableTurnOrderRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// topUpLedgerRequest - тело POST /campaigns/:campaign_id/ledger/top-up.
type topUpLedgerRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// updateSettingsRequest - тело PUT /campaigns/:campaign_id/settings.
type updateSettingsRequest struct {
	ResolutionCost      int64 `json:"resolution_cost"`
	CostPerParticipant  int64 `json:"cost_per_participant"`
	TurnTimeoutSeconds  int   `json:"turn_timeout_seconds"`
	ReminderThresholds  []int `json:"reminder_thresholds"`
	StartingBalance     int64 `json:"starting_balance"`
	MaxSceneParticipant int   `json:"max_scene_participants"`
}

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}
