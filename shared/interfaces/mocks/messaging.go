package mocks

import (
	"context"

	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Mock ClientUpdatePublisher
type ClientUpdatePublisher struct {
	mock.Mock
}

func (m *ClientUpdatePublisher) PublishClientUpdate(ctx context.Context, event *models.ClientSceneEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Mock PushNotificationPublisher
type PushNotificationPublisher struct {
	mock.Mock
}

func (m *PushNotificationPublisher) PublishPushNotification(ctx context.Context, payload *models.PushNotificationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

// Mock SceneBroadcaster
type SceneBroadcaster struct {
	mock.Mock
}

func (m *SceneBroadcaster) BroadcastToScene(ctx context.Context, sceneID, campaignID uuid.UUID, eventType string, payload interface{}) {
	m.Called(ctx, sceneID, campaignID, eventType, payload)
}

func (m *SceneBroadcaster) BroadcastToCampaign(ctx context.Context, campaignID uuid.UUID, eventType string, payload interface{}) {
	m.Called(ctx, campaignID, eventType, payload)
}

func (m *SceneBroadcaster) NotifyUsers(ctx context.Context, userIDs []uuid.UUID, notification *models.PushNotificationPayload) {
	m.Called(ctx, userIDs, notification)
}
