package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SceneStatus представляет статус сцены в жизненном цикле обмена.
type SceneStatus string

// Возможные статусы сцены. Переходы выполняются ТОЛЬКО условными
// UPDATE-ами на уровне хранилища (см. SceneRepository).
const (
	// SceneStatusAwaitingActions - сцена принимает действия участников.
	SceneStatusAwaitingActions SceneStatus = "AWAITING_ACTIONS"
	// SceneStatusResolving - пайплайн резолюции в полете, новые действия не принимаются.
	SceneStatusResolving SceneStatus = "RESOLVING"
	// SceneStatusCompleted - сцена закрыта мастером, терминальный статус.
	SceneStatusCompleted SceneStatus = "COMPLETED"
)

// Scene is the aggregate tracked by the coordination core: participants,
// the current exchange number and the authoritative waiting list.
type Scene struct {
	ID                      uuid.UUID       `json:"id"`
	CampaignID              uuid.UUID       `json:"campaign_id"`
	SceneNumber             int             `json:"scene_number"`
	Status                  SceneStatus     `json:"status"`
	Open                    bool            `json:"open"` // Открытая сцена: каждый экшен - свой одиночный обмен
	CurrentExchangeNumber   int             `json:"current_exchange_number"`
	ParticipantCharacterIDs []uuid.UUID     `json:"participant_character_ids"`
	ParticipantUserIDs      []uuid.UUID     `json:"participant_user_ids"`
	WaitingOnUserIDs        []uuid.UUID     `json:"waiting_on_user_ids"`
	ExchangeState           json.RawMessage `json:"exchange_state,omitempty"` // Непрозрачный carry-over блоб между обменами
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// IsActive reports whether the scene still occupies its characters
// (a character may be in at most one active scene per campaign).
func (s *Scene) IsActive() bool {
	return s.Status == SceneStatusAwaitingActions || s.Status == SceneStatusResolving
}

// HasParticipantUser reports whether the user is already registered on the scene.
func (s *Scene) HasParticipantUser(userID uuid.UUID) bool {
	for _, id := range s.ParticipantUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasParticipantCharacter reports whether the character is already registered on the scene.
func (s *Scene) HasParticipantCharacter(characterID uuid.UUID) bool {
	for _, id := range s.ParticipantCharacterIDs {
		if id == characterID {
			return true
		}
	}
	return false
}

// RecomputeWaiting возвращает авторитетный waiting-set: участники минус
// пользователи с pending действием в текущем обмене. Порядок участников сохраняется.
func RecomputeWaiting(participantUserIDs []uuid.UUID, actedUserIDs []uuid.UUID) []uuid.UUID {
	acted := make(map[uuid.UUID]struct{}, len(actedUserIDs))
	for _, id := range actedUserIDs {
		acted[id] = struct{}{}
	}
	waiting := make([]uuid.UUID, 0, len(participantUserIDs))
	for _, id := range participantUserIDs {
		if _, ok := acted[id]; !ok {
			waiting = append(waiting, id)
		}
	}
	return waiting
}
