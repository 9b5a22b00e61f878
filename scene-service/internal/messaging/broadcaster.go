package messaging

import (
	"context"
	"encoding/json"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time check
var _ interfaces.SceneBroadcaster = (*queueBroadcaster)(nil)

// queueBroadcaster реализует best-effort вещание поверх RabbitMQ-паблишеров.
// Ошибки публикации логируются и никогда не возвращаются: состояние сцены уже
// зафиксировано в базе, клиенты дотянут его запросом getScene.
type queueBroadcaster struct {
	clientUpdates interfaces.ClientUpdatePublisher
	push          interfaces.PushNotificationPublisher
	logger        *zap.Logger
}

// NewQueueBroadcaster creates a broadcaster over the given publishers.
// push может быть nil, тогда NotifyUsers становится no-op.
func NewQueueBroadcaster(clientUpdates interfaces.ClientUpdatePublisher, push interfaces.PushNotificationPublisher, logger *zap.Logger) interfaces.SceneBroadcaster {
	return &queueBroadcaster{
		clientUpdates: clientUpdates,
		push:          push,
		logger:        logger.Named("QueueBroadcaster"),
	}
}

func (b *queueBroadcaster) BroadcastToScene(ctx context.Context, sceneID, campaignID uuid.UUID, eventType string, payload interface{}) {
	b.publish(ctx, models.SceneChannelKey(sceneID), sceneID, campaignID, eventType, payload)
}

func (b *queueBroadcaster) BroadcastToCampaign(ctx context.Context, campaignID uuid.UUID, eventType string, payload interface{}) {
	b.publish(ctx, models.CampaignChannelKey(campaignID), uuid.Nil, campaignID, eventType, payload)
}

func (b *queueBroadcaster) NotifyUsers(ctx context.Context, userIDs []uuid.UUID, notification *models.PushNotificationPayload) {
	if b.push == nil || notification == nil {
		return
	}
	for _, userID := range userIDs {
		payload := *notification
		payload.UserID = userID
		if err := b.push.PublishPushNotification(ctx, &payload); err != nil {
			b.logger.Warn("Failed to publish push notification",
				zap.String("userID", userID.String()), zap.Error(err))
		}
	}
}

func (b *queueBroadcaster) publish(ctx context.Context, channelKey string, sceneID, campaignID uuid.UUID, eventType string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to marshal broadcast payload",
			zap.String("eventType", eventType), zap.Error(err))
		return
	}

	event := &models.ClientSceneEvent{
		ChannelKey: channelKey,
		EventType:  eventType,
		SceneID:    sceneID,
		CampaignID: campaignID,
		Payload:    body,
	}
	if err := b.clientUpdates.PublishClientUpdate(ctx, event); err != nil {
		b.logger.Warn("Failed to publish client update",
			zap.String("channelKey", channelKey),
			zap.String("eventType", eventType), zap.Error(err))
	}
}
