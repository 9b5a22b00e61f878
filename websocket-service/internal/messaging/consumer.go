package messaging

import (
	"encoding/json"
	"fmt"

	"scene-server/shared/models"
	"scene-server/websocket-service/internal/handler"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer отвечает за получение событий сцен из RabbitMQ и их доставку
// подписчикам через ConnectionManager.
type Consumer struct {
	conn        *amqp.Connection
	manager     *handler.ConnectionManager
	queueName   string
	stopChannel chan struct{}
	logger      zerolog.Logger
}

// NewConsumer создает нового консьюмера RabbitMQ.
func NewConsumer(conn *amqp.Connection, manager *handler.ConnectionManager, queueName string, logger zerolog.Logger) (*Consumer, error) {
	return &Consumer{
		conn:        conn,
		manager:     manager,
		queueName:   queueName,
		stopChannel: make(chan struct{}),
		logger:      logger.With().Str("component", "Consumer").Logger(),
	}, nil
}

// StartConsuming начинает прослушивание очереди событий сцен.
// Функция блокирующая, запускать в отдельной горутине.
func (c *Consumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	// Параметры объявления должны совпадать с паблишером scene-service
	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}
	c.logger.Info().Str("queue", q.Name).Msg("Очередь событий сцен объявлена/найдена")

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"websocket-service-consumer", // consumer tag
		false,                        // auto-ack
		false,                        // exclusive
		false,                        // no-local
		false,                        // no-wait
		nil,                          // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info().Str("queue", q.Name).Msg("Консьюмер запущен, ожидание событий сцен")

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Info().Msg("Канал сообщений RabbitMQ закрыт")
				return nil
			}
			c.handleDelivery(d)

		case <-c.stopChannel:
			c.logger.Info().Msg("Получен сигнал остановки консьюмера RabbitMQ")
			return nil
		}
	}
}

// handleDelivery маршрутизирует одно событие подписчикам его канала.
// Событие канала - это широковещание: отсутствие подписчиков не повод
// возвращать сообщение в очередь, поэтому Ack в любом случае доставки.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	var event models.ClientSceneEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("Ошибка десериализации события сцены. Nack без requeue.")
		_ = d.Nack(false, false)
		return
	}

	if event.ChannelKey == "" {
		c.logger.Error().Str("eventType", event.EventType).Msg("Событие без channel_key. Nack без requeue.")
		_ = d.Nack(false, false)
		return
	}

	delivered := c.manager.SendToChannel(event.ChannelKey, d.Body)
	c.logger.Debug().
		Str("channel", event.ChannelKey).
		Str("eventType", event.EventType).
		Int("subscribers", delivered).
		Msg("Событие доставлено подписчикам")
	_ = d.Ack(false)
}

// Stop останавливает консьюмер.
func (c *Consumer) Stop() {
	c.logger.Info().Msg("Остановка консьюмера RabbitMQ...")
	close(c.stopChannel)
}
