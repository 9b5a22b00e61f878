package interfaces

import (
	"context"

	"scene-server/shared/models"
)

// ClientUpdatePublisher ставит событие для websocket-клиентов в очередь
// RabbitMQ. websocket-service разбирает очередь и рассылает по каналам.
//
//go:generate mockery --name ClientUpdatePublisher --output ./mocks --outpkg mocks --case=underscore
type ClientUpdatePublisher interface {
	PublishClientUpdate(ctx context.Context, event *models.ClientSceneEvent) error
}

// PushNotificationPublisher ставит push-уведомление в очередь для
// notification-инфраструктуры (напоминания о ходе и т.п.).
//
//go:generate mockery --name PushNotificationPublisher --output ./mocks --outpkg mocks --case=underscore
type PushNotificationPublisher interface {
	PublishPushNotification(ctx context.Context, payload *models.PushNotificationPayload) error
}
