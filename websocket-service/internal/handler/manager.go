package handler

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client представляет собой одно WebSocket соединение с идентификатором пользователя.
type Client struct {
	ID     uuid.UUID
	UserID string
	Conn   *websocket.Conn
	send   chan []byte // Канал для отправки сообщений этому клиенту

	mu       sync.Mutex
	channels map[string]struct{} // Каналы, на которые подписан клиент
}

// subscribedTo сообщает, подписан ли клиент на канал.
func (c *Client) subscribedTo(channelKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channelKey]
	return ok
}

// ConnectionManager управляет активными WebSocket соединениями и их
// подписками на каналы сцен и кампаний.
type ConnectionManager struct {
	mu sync.RWMutex
	// Все соединения по ID. Один пользователь может держать несколько
	// соединений (несколько вкладок/устройств).
	clients map[uuid.UUID]*Client
	// Подписчики по ключу канала ("scene:<uuid>", "campaign:<uuid>").
	subscriptions map[string]map[uuid.UUID]*Client
	logger        zerolog.Logger
}

// NewConnectionManager создает новый менеджер соединений.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients:       make(map[uuid.UUID]*Client),
		subscriptions: make(map[string]map[uuid.UUID]*Client),
		logger:        logger.With().Str("component", "ConnectionManager").Logger(),
	}
}

// RegisterClient регистрирует нового клиента.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.mu.Lock()
	m.clients[client.ID] = client
	m.mu.Unlock()
	activeConnections.Inc()
	m.logger.Info().Str("userID", client.UserID).Str("clientID", client.ID.String()).Msg("Client registered")
}

// UnregisterClient удаляет клиента и все его подписки.
func (m *ConnectionManager) UnregisterClient(clientID uuid.UUID) {
	m.mu.Lock()
	client, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
		for key, subs := range m.subscriptions {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(m.subscriptions, key)
			}
		}
		close(client.send)
	}
	m.mu.Unlock()
	if ok {
		activeConnections.Dec()
		m.logger.Info().Str("userID", client.UserID).Str("clientID", clientID.String()).Msg("Client unregistered")
	}
}

// Subscribe подписывает клиента на канал.
func (m *ConnectionManager) Subscribe(clientID uuid.UUID, channelKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[clientID]
	if !ok {
		return
	}
	subs, ok := m.subscriptions[channelKey]
	if !ok {
		subs = make(map[uuid.UUID]*Client)
		m.subscriptions[channelKey] = subs
	}
	subs[clientID] = client

	client.mu.Lock()
	if client.channels == nil {
		client.channels = make(map[string]struct{})
	}
	client.channels[channelKey] = struct{}{}
	client.mu.Unlock()

	m.logger.Debug().Str("userID", client.UserID).Str("channel", channelKey).Msg("Client subscribed")
}

// Unsubscribe снимает подписку клиента с канала.
func (m *ConnectionManager) Unsubscribe(clientID uuid.UUID, channelKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subs, ok := m.subscriptions[channelKey]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(m.subscriptions, channelKey)
		}
	}
	if client, ok := m.clients[clientID]; ok {
		client.mu.Lock()
		delete(client.channels, channelKey)
		client.mu.Unlock()
	}
}

// SendToChannel рассылает сообщение всем подписчикам канала.
// Возвращает количество клиентов, которым сообщение поставлено в очередь.
func (m *ConnectionManager) SendToChannel(channelKey string, message []byte) int {
	m.mu.RLock()
	subs := m.subscriptions[channelKey]
	targets := make([]*Client, 0, len(subs))
	for _, client := range subs {
		targets = append(targets, client)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		select {
		case client.send <- message:
			delivered++
			eventsDeliveredTotal.Inc()
		default:
			// Очередь переполнена: клиент не успевает читать, не блокируемся
			eventsDroppedTotal.Inc()
			m.logger.Warn().Str("userID", client.UserID).Str("channel", channelKey).Msg("Send queue full, message dropped")
		}
	}
	return delivered
}
