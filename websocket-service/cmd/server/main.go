package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scene-server/websocket-service/internal/config"
	"scene-server/websocket-service/internal/handler"
	"scene-server/websocket-service/internal/messaging"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	log.Println("Запуск WebSocket сервиса...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logLevel, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(logLevel).With().Timestamp().Str("service", "websocket-service").Logger()

	// Подключаемся к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к RabbitMQ")
	}
	defer rabbitConn.Close()
	logger.Info().Msg("Успешное подключение к RabbitMQ")

	// Менеджер соединений и консьюмер событий сцен
	connManager := handler.NewConnectionManager(logger)

	mqConsumer, err := messaging.NewConsumer(rabbitConn, connManager, cfg.RabbitMQ.QueueName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось создать консьюмер RabbitMQ")
	}
	go func() {
		if err := mqConsumer.StartConsuming(); err != nil {
			logger.Error().Err(err).Msg("Ошибка при работе консьюмера RabbitMQ")
		}
	}()

	wsHandler := handler.NewWebSocketHandler(connManager, cfg.Auth.JWTSecret, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", gin.WrapF(wsHandler.ServeWS))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("WebSocket сервер слушает")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Ошибка запуска сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Получен сигнал завершения, начинаем graceful shutdown...")

	mqConsumer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Ошибка при graceful shutdown HTTP сервера")
	}

	logger.Info().Msg("WebSocket сервис успешно остановлен")
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string, logger zerolog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn().
			Int("attempt", i+1).
			Int("max_attempts", maxRetries).
			Dur("retry_delay", retryDelay).
			Err(err).
			Msg("Не удалось подключиться к RabbitMQ")
		time.Sleep(retryDelay)
	}
	return nil, err
}
