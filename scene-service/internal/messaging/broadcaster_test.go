package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"scene-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockClientUpdatePublisher struct {
	mock.Mock
}

func (m *mockClientUpdatePublisher) PublishClientUpdate(ctx context.Context, event *models.ClientSceneEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockPushPublisher struct {
	mock.Mock
}

func (m *mockPushPublisher) PublishPushNotification(ctx context.Context, payload *models.PushNotificationPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func TestQueueBroadcaster(t *testing.T) {
	ctx := context.Background()
	sceneID := uuid.New()
	campaignID := uuid.New()

	t.Run("Scene event goes to the scene channel", func(t *testing.T) {
		updates := new(mockClientUpdatePublisher)
		b := NewQueueBroadcaster(updates, nil, zap.NewNop())

		updates.On("PublishClientUpdate", ctx, mock.MatchedBy(func(e *models.ClientSceneEvent) bool {
			var payload models.ResolvedPayload
			if err := json.Unmarshal(e.Payload, &payload); err != nil {
				return false
			}
			return e.ChannelKey == models.SceneChannelKey(sceneID) &&
				e.EventType == "resolved" &&
				e.SceneID == sceneID &&
				e.CampaignID == campaignID &&
				payload.ExchangeNumber == 2
		})).Return(nil).Once()

		b.BroadcastToScene(ctx, sceneID, campaignID, "resolved", models.ResolvedPayload{ExchangeNumber: 2})

		updates.AssertExpectations(t)
	})

	t.Run("Campaign event goes to the campaign channel", func(t *testing.T) {
		updates := new(mockClientUpdatePublisher)
		b := NewQueueBroadcaster(updates, nil, zap.NewNop())

		updates.On("PublishClientUpdate", ctx, mock.MatchedBy(func(e *models.ClientSceneEvent) bool {
			return e.ChannelKey == models.CampaignChannelKey(campaignID) && e.SceneID == uuid.Nil
		})).Return(nil).Once()

		b.BroadcastToCampaign(ctx, campaignID, "scene_created", nil)

		updates.AssertExpectations(t)
	})

	t.Run("Publish failure is swallowed", func(t *testing.T) {
		updates := new(mockClientUpdatePublisher)
		b := NewQueueBroadcaster(updates, nil, zap.NewNop())

		updates.On("PublishClientUpdate", ctx, mock.Anything).Return(errors.New("broker down")).Once()

		assert.NotPanics(t, func() {
			b.BroadcastToScene(ctx, sceneID, campaignID, "resolved", models.ResolvedPayload{})
		})
	})

	t.Run("Push notification is fanned out per user", func(t *testing.T) {
		updates := new(mockClientUpdatePublisher)
		push := new(mockPushPublisher)
		b := NewQueueBroadcaster(updates, push, zap.NewNop())
		userA, userB := uuid.New(), uuid.New()

		push.On("PublishPushNotification", ctx, mock.MatchedBy(func(p *models.PushNotificationPayload) bool {
			return p.UserID == userA
		})).Return(nil).Once()
		push.On("PublishPushNotification", ctx, mock.MatchedBy(func(p *models.PushNotificationPayload) bool {
			return p.UserID == userB
		})).Return(nil).Once()

		b.NotifyUsers(ctx, []uuid.UUID{userA, userB}, &models.PushNotificationPayload{
			Notification: models.PushNotification{Title: "Ваш ход"},
		})

		push.AssertExpectations(t)
	})

	t.Run("Nil push publisher is a no-op", func(t *testing.T) {
		updates := new(mockClientUpdatePublisher)
		b := NewQueueBroadcaster(updates, nil, zap.NewNop())

		assert.NotPanics(t, func() {
			b.NotifyUsers(ctx, []uuid.UUID{uuid.New()}, &models.PushNotificationPayload{})
		})
	})
}
