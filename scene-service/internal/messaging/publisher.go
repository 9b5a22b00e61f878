package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"scene-server/shared/interfaces"
	"scene-server/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Compile-time checks
var (
	_ interfaces.ClientUpdatePublisher     = (*rabbitMQPublisher)(nil)
	_ interfaces.PushNotificationPublisher = (*rabbitMQPublisher)(nil)
)

// rabbitMQPublisher публикует сообщения в одну именованную очередь через
// default exchange. Один экземпляр - одна очередь - один канал.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
}

// NewRabbitMQClientUpdatePublisher creates a publisher for websocket client updates.
func NewRabbitMQClientUpdatePublisher(conn *amqp.Connection, queueName string) (interfaces.ClientUpdatePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("client update publisher: не удалось открыть канал: %w", err)
	}
	// Объявляем очередь здесь: паблишер и консьюмер должны сходиться в параметрах
	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("client update publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log.Printf("ClientUpdatePublisher: очередь '%s' успешно объявлена/найдена", queueName)
	return &rabbitMQPublisher{channel: ch, queueName: queueName}, nil
}

// NewRabbitMQPushNotificationPublisher creates a publisher for push notification requests.
func NewRabbitMQPushNotificationPublisher(conn *amqp.Connection, queueName string) (interfaces.PushNotificationPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("push notification publisher: не удалось открыть канал: %w", err)
	}
	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("push notification publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}
	log.Printf("PushNotificationPublisher: очередь '%s' успешно объявлена/найдена", queueName)
	return &rabbitMQPublisher{channel: ch, queueName: queueName}, nil
}

// PublishClientUpdate publishes a scene event for websocket delivery.
func (p *rabbitMQPublisher) PublishClientUpdate(ctx context.Context, event *models.ClientSceneEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("Publisher: Ошибка маршалинга ClientSceneEvent: %v", err)
		return fmt.Errorf("ошибка подготовки сообщения ClientSceneEvent: %w", err)
	}
	return p.publishMessage(ctx, body)
}

// PublishPushNotification publishes a push notification request.
func (p *rabbitMQPublisher) PublishPushNotification(ctx context.Context, payload *models.PushNotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("PushPublisher: Ошибка маршалинга PushNotification: %v", err)
		return fmt.Errorf("ошибка подготовки сообщения PushNotification: %w", err)
	}
	return p.publishMessage(ctx, body)
}

// publishMessage is a helper method for publishing a message.
func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		log.Println("Ошибка публикации: канал RabbitMQ не инициализирован (nil)")
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	// Попытка публикации с retry до 3 раз
	for attempt := 1; attempt <= 3; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (используем default)
			p.queueName, // routing key (имя очереди)
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        "scene-service",
			},
		)
		if err == nil {
			break
		}
		log.Printf("Ошибка публикации (attempt %d) в очередь '%s': %v", attempt, p.queueName, err)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
	}
	return nil
}
