package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: Добавить проверку Origin для безопасности
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientCommand - сообщение от клиента с управлением подписками.
type clientCommand struct {
	Action  string `json:"action"`  // "subscribe" или "unsubscribe"
	Channel string `json:"channel"` // "scene:<uuid>" или "campaign:<uuid>"
}

// WebSocketHandler обрабатывает запросы на установку WebSocket соединения.
type WebSocketHandler struct {
	manager   *ConnectionManager
	jwtSecret []byte
	logger    zerolog.Logger
}

// NewWebSocketHandler создает новый обработчик WebSocket.
func NewWebSocketHandler(manager *ConnectionManager, jwtSecret string, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: []byte(jwtSecret),
		logger:    logger.With().Str("component", "WebSocketHandler").Logger(),
	}
}

// ServeWS обрабатывает входящий HTTP запрос для WebSocket.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Извлекаем токен из query-параметра 'token'
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		h.logger.Warn().Msg("Missing 'token' query parameter")
		http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.validateToken(tokenString)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Invalid token")
		http.Error(w, fmt.Sprintf("Unauthorized: %s", err.Error()), http.StatusUnauthorized)
		return
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		h.logger.Error().Interface("claims", claims).Msg("UserID ('sub') not found or empty in token claims")
		http.Error(w, "Unauthorized: Invalid token claims", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("userID", userID).Msg("Failed to upgrade connection")
		return
	}

	h.logger.Info().Str("userID", userID).Msg("WebSocket connection established")

	client := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]struct{}),
	}

	h.manager.RegisterClient(client)

	clientLogger := h.logger.With().Str("userID", userID).Str("clientID", client.ID.String()).Logger()
	go client.writePump(clientLogger)
	go client.readPump(h.manager, clientLogger)
}

// validateToken проверяет JWT токен и возвращает claims.
func (h *WebSocketHandler) validateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse error: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// readPump читает команды подписки от клиента до закрытия соединения.
func (c *Client) readPump(manager *ConnectionManager, logger zerolog.Logger) {
	defer func() {
		manager.UnregisterClient(c.ID)
		_ = c.Conn.Close()
		logger.Info().Msg("readPump finished")
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				logger.Info().Msg("WebSocket connection closed (expected)")
			}
			break
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			logger.Warn().Bytes("message", message).Msg("Received malformed command (ignored)")
			continue
		}
		if !validChannelKey(cmd.Channel) {
			logger.Warn().Str("channel", cmd.Channel).Msg("Rejected subscription to unknown channel format")
			continue
		}

		switch cmd.Action {
		case "subscribe":
			manager.Subscribe(c.ID, cmd.Channel)
		case "unsubscribe":
			manager.Unsubscribe(c.ID, cmd.Channel)
		default:
			logger.Warn().Str("action", cmd.Action).Msg("Unknown command action (ignored)")
		}
	}
}

// validChannelKey допускает только каналы сцен и кампаний с UUID в суффиксе.
func validChannelKey(key string) bool {
	var suffix string
	switch {
	case strings.HasPrefix(key, "scene:"):
		suffix = strings.TrimPrefix(key, "scene:")
	case strings.HasPrefix(key, "campaign:"):
		suffix = strings.TrimPrefix(key, "campaign:")
	default:
		return false
	}
	_, err := uuid.Parse(suffix)
	return err == nil
}

// writePump откачивает сообщения из канала send в WebSocket соединение.
func (c *Client) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		logger.Info().Msg("writePump finished")
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				logger.Info().Msg("Send channel closed, sending CloseMessage")
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to get next writer")
				return
			}
			if _, err = w.Write(message); err != nil {
				logger.Error().Err(err).Msg("Failed to write message")
			}

			// Отправляем накопившиеся сообщения за один writer
			n := len(c.send)
			for i := 0; i < n; i++ {
				queuedMsg := <-c.send
				if _, err = w.Write([]byte("\n")); err != nil {
					logger.Error().Err(err).Msg("Failed to write newline separator")
					_ = w.Close()
					return
				}
				if _, err = w.Write(queuedMsg); err != nil {
					logger.Error().Err(err).Msg("Failed to write queued message")
					_ = w.Close()
					return
				}
			}

			if err := w.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close writer")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
