package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ClientSceneEvent содержит данные для обновления состояния сцены на клиенте через WebSocket.
// ChannelKey определяет, каким подписчикам websocket-service доставит событие.
type ClientSceneEvent struct {
	ChannelKey string          `json:"channel_key"`          // Например "scene:<uuid>" или "campaign:<uuid>"
	EventType  string          `json:"event_type"`           // Одна из констант constants.WSEvent*
	SceneID    uuid.UUID       `json:"scene_id"`
	CampaignID uuid.UUID       `json:"campaign_id"`
	Payload    json.RawMessage `json:"payload,omitempty"` // Тело события, специфичное для EventType
}

// PushNotificationPayload определяет структуру для отправки Push-уведомлений
// через внешний notification-service.
type PushNotificationPayload struct {
	UserID       uuid.UUID         `json:"user_id"`
	Notification PushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// PushNotification содержит основные данные для отображения уведомления.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ResolvedPayload is broadcast when an exchange resolves successfully.
type ResolvedPayload struct {
	ExchangeNumber int    `json:"exchange_number"`
	Description    string `json:"description"`
}

// AutoResolveFailedPayload is broadcast when the balance check rejects an attempt.
type AutoResolveFailedPayload struct {
	ExchangeNumber  int   `json:"exchange_number"`
	RequiredBalance int64 `json:"required_balance"`
	CurrentBalance  int64 `json:"current_balance"`
}

// ResolutionFailedPayload is broadcast when the resolver call or outcome
// application fails after the exchange entered resolution.
type ResolutionFailedPayload struct {
	ExchangeNumber int    `json:"exchange_number"`
	ErrorDetails   string `json:"error_details"`
}

// ActionCreatedPayload is broadcast after a submission persists.
type ActionCreatedPayload struct {
	ExchangeNumber   int         `json:"exchange_number"`
	CharacterID      uuid.UUID   `json:"character_id"`
	UserID           uuid.UUID   `json:"user_id"`
	WaitingOnUserIDs []uuid.UUID `json:"waiting_on_user_ids"`
}

// TurnEventPayload is broadcast on advance/skip and reminders.
type TurnEventPayload struct {
	CurrentUserID    uuid.UUID `json:"current_user_id"`
	CurrentIndex     int       `json:"current_index"`
	TurnDeadline     string    `json:"turn_deadline,omitempty"`
	RemainingSeconds int64     `json:"remaining_seconds,omitempty"`
	ThresholdSeconds int       `json:"threshold_seconds,omitempty"`
}

// SceneChannelKey строит ключ канала вещания для сцены.
func SceneChannelKey(sceneID uuid.UUID) string {
	return "scene:" + sceneID.String()
}

// CampaignChannelKey строит ключ канала вещания для кампании.
func CampaignChannelKey(campaignID uuid.UUID) string {
	return "campaign:" + campaignID.String()
}
