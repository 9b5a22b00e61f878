package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"scene-server/scene-service/internal/messaging"
	"scene-server/shared/constants"
	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const (
	testClientUpdatesQueue = "client_updates_test"
	testPushQueue          = "push_notifications_test"
)

// BroadcasterIntegrationSuite гоняет паблишеры и broadcaster через настоящий RabbitMQ.
type BroadcasterIntegrationSuite struct {
	suite.Suite
	ctx          context.Context
	rmqContainer *rabbitmq.RabbitMQContainer
	rabbitConn   *amqp.Connection
	consumerCh   *amqp.Channel

	broadcaster interfaces.SceneBroadcaster
}

func (s *BroadcasterIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	rmqContainer, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete"),
		),
	)
	require.NoError(s.T(), err)
	s.rmqContainer = rmqContainer

	rmqConnStr, err := rmqContainer.AmqpURL(s.ctx)
	require.NoError(s.T(), err)

	s.rabbitConn, err = amqp.Dial(rmqConnStr)
	require.NoError(s.T(), err)

	clientUpdates, err := messaging.NewRabbitMQClientUpdatePublisher(s.rabbitConn, testClientUpdatesQueue)
	require.NoError(s.T(), err)
	push, err := messaging.NewRabbitMQPushNotificationPublisher(s.rabbitConn, testPushQueue)
	require.NoError(s.T(), err)
	s.broadcaster = messaging.NewQueueBroadcaster(clientUpdates, push, zap.NewNop())

	s.consumerCh, err = s.rabbitConn.Channel()
	require.NoError(s.T(), err)
}

func (s *BroadcasterIntegrationSuite) TearDownSuite() {
	if s.consumerCh != nil {
		s.consumerCh.Close()
	}
	if s.rabbitConn != nil {
		s.rabbitConn.Close()
	}
	if s.rmqContainer != nil {
		_ = s.rmqContainer.Terminate(s.ctx)
	}
}

// drainOne забирает одно сообщение из очереди с таймаутом.
func (s *BroadcasterIntegrationSuite) drainOne(queueName string) []byte {
	deadline := time.After(10 * time.Second)
	for {
		msg, ok, err := s.consumerCh.Get(queueName, true)
		require.NoError(s.T(), err)
		if ok {
			return msg.Body
		}
		select {
		case <-deadline:
			s.T().Fatalf("timeout waiting for message in queue %s", queueName)
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *BroadcasterIntegrationSuite) TestBroadcastToSceneRoundTrip() {
	sceneID := uuid.New()
	campaignID := uuid.New()

	s.broadcaster.BroadcastToScene(s.ctx, sceneID, campaignID, constants.WSEventResolved, &models.ResolvedPayload{
		ExchangeNumber: 2,
		Description:    "Дверь поддается, за ней темный коридор.",
	})

	body := s.drainOne(testClientUpdatesQueue)

	var event models.ClientSceneEvent
	require.NoError(s.T(), json.Unmarshal(body, &event))
	s.Equal(models.SceneChannelKey(sceneID), event.ChannelKey)
	s.Equal(constants.WSEventResolved, event.EventType)
	s.Equal(sceneID, event.SceneID)
	s.Equal(campaignID, event.CampaignID)

	var payload models.ResolvedPayload
	require.NoError(s.T(), json.Unmarshal(event.Payload, &payload))
	s.Equal(2, payload.ExchangeNumber)
	s.Equal("Дверь поддается, за ней темный коридор.", payload.Description)
}

func (s *BroadcasterIntegrationSuite) TestBroadcastToCampaignRoundTrip() {
	campaignID := uuid.New()

	s.broadcaster.BroadcastToCampaign(s.ctx, campaignID, constants.WSEventSceneCreated, map[string]string{"scene_title": "Таверна"})

	var event models.ClientSceneEvent
	require.NoError(s.T(), json.Unmarshal(s.drainOne(testClientUpdatesQueue), &event))
	s.Equal(models.CampaignChannelKey(campaignID), event.ChannelKey)
	s.Equal(uuid.Nil, event.SceneID)
	s.Equal(campaignID, event.CampaignID)
}

func (s *BroadcasterIntegrationSuite) TestNotifyUsersFanOut() {
	userA := uuid.New()
	userB := uuid.New()

	s.broadcaster.NotifyUsers(s.ctx, []uuid.UUID{userA, userB}, &models.PushNotificationPayload{
		Notification: models.PushNotification{Title: "Ваш ход", Body: "Очередь дошла до вашего персонажа"},
		Data:         map[string]string{"type": "turn_reminder"},
	})

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 2; i++ {
		var payload models.PushNotificationPayload
		require.NoError(s.T(), json.Unmarshal(s.drainOne(testPushQueue), &payload))
		s.Equal("Ваш ход", payload.Notification.Title)
		seen[payload.UserID] = true
	}
	s.True(seen[userA])
	s.True(seen[userB])
}

func TestBroadcasterIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode.")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err == nil {
		_, err = cli.Ping(context.Background())
	}
	if err != nil {
		t.Skipf("Docker недоступен, пропускаем интеграционные тесты: %v", err)
	}
	suite.Run(t, new(BroadcasterIntegrationSuite))
}
