package interfaces

import (
	"context"

	"scene-server/shared/models"

	"github.com/google/uuid"
)

// SceneBroadcaster is the best-effort notification surface of the scene
// service. Implementations log failures and never return them: изменение
// состояния уже зафиксировано в базе, уведомление его не откатывает.
//
//go:generate mockery --name SceneBroadcaster --output ./mocks --outpkg mocks --case=underscore
type SceneBroadcaster interface {
	// BroadcastToScene sends an event on the channel of a single scene.
	BroadcastToScene(ctx context.Context, sceneID, campaignID uuid.UUID, eventType string, payload interface{})

	// BroadcastToCampaign sends an event on the campaign-wide channel.
	BroadcastToCampaign(ctx context.Context, campaignID uuid.UUID, eventType string, payload interface{})

	// NotifyUsers отправляет push-уведомление перечисленным пользователям.
	NotifyUsers(ctx context.Context, userIDs []uuid.UUID, notification *models.PushNotificationPayload)
}
