package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scene-server/pkg/migration"
	"scene-server/pkg/taskmanager"
	"scene-server/scene-service/internal/clients"
	"scene-server/scene-service/internal/config"
	"scene-server/scene-service/internal/handler"
	"scene-server/scene-service/internal/messaging"
	"scene-server/scene-service/internal/service"
	"scene-server/scene-service/internal/worker"
	"scene-server/scene-service/migrations"
	sharedDatabase "scene-server/shared/database"
	sharedLogger "scene-server/shared/logger"
	sharedMiddleware "scene-server/shared/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Scene Service...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level: cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer logger.Sync()
	logger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// Подключение к PostgreSQL
	dbPool, err := setupDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	logger.Info("Успешное подключение к PostgreSQL")

	// Применяем миграции из встроенных файлов
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 60*time.Second)
	if err := migration.Apply(migrateCtx, dbPool, migrations.FS, migrations.Path); err != nil {
		cancelMigrate()
		logger.Fatal("Не удалось применить миграции", zap.Error(err))
	}
	cancelMigrate()
	logger.Info("Миграции применены")

	// Подключение к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	logger.Info("Успешное подключение к RabbitMQ")

	clientUpdatePublisher, err := messaging.NewRabbitMQClientUpdatePublisher(rabbitConn, cfg.ClientUpdatesQueueName)
	if err != nil {
		logger.Fatal("Не удалось создать ClientUpdatePublisher", zap.Error(err))
	}
	pushPublisher, err := messaging.NewRabbitMQPushNotificationPublisher(rabbitConn, cfg.PushQueueName)
	if err != nil {
		logger.Fatal("Не удалось создать PushNotificationPublisher", zap.Error(err))
	}
	broadcaster := messaging.NewQueueBroadcaster(clientUpdatePublisher, pushPublisher, logger)

	// Репозитории
	sceneRepo := sharedDatabase.NewPgSceneRepository(dbPool, logger)
	actionRepo := sharedDatabase.NewPgPlayerActionRepository(dbPool, logger)
	turnRepo := sharedDatabase.NewPgTurnStateRepository(dbPool, logger)
	ledgerRepo := sharedDatabase.NewPgLedgerRepository(dbPool, logger)
	settingsRepo := sharedDatabase.NewPgSettingsRepository(dbPool, logger)
	txRunner := sharedDatabase.NewPgxTxRunner(dbPool, logger)

	// HTTP-клиенты смежных сервисов
	campaignClient := clients.NewHTTPCampaignServiceClient(cfg.CampaignServiceURL, cfg.InterServiceSecret, cfg.ClientCallTimeout, logger)
	resolverClient := clients.NewHTTPResolverClient(cfg.ResolverServiceURL, cfg.InterServiceSecret, cfg.ResolverTimeout, logger)

	// Менеджер отсоединенных задач резолюции
	taskManager, err := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxResolutionsInFly})
	if err != nil {
		logger.Fatal("Не удалось создать менеджер задач", zap.Error(err))
	}

	pipeline := service.NewResolutionPipeline(
		dbPool, txRunner, sceneRepo, actionRepo, ledgerRepo, settingsRepo,
		resolverClient, broadcaster, taskManager, cfg.ResolverTimeout, logger,
	)
	sceneService := service.NewSceneService(
		dbPool, txRunner, sceneRepo, actionRepo, turnRepo, ledgerRepo, settingsRepo,
		campaignClient, broadcaster, pipeline, logger,
	)
	turnService := service.NewTurnService(dbPool, sceneRepo, turnRepo, settingsRepo, campaignClient, broadcaster, logger)

	sceneHandler := handler.NewSceneHandler(sceneService, turnService, logger, cfg.JWTSecret)

	// Свипер дедлайнов ходов
	reminderWorker := worker.NewReminderWorker(
		dbPool, sceneRepo, turnRepo, settingsRepo, broadcaster, cfg.ReminderSweepInterval, logger,
	)
	if err := reminderWorker.Start(); err != nil {
		logger.Fatal("Не удалось запустить reminder worker", zap.Error(err))
	}

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	sceneHandler.RegisterRoutes(router)

	// Prometheus после регистрации роутов
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Scene сервер слушает на порту %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	if err := reminderWorker.Stop(); err != nil {
		logger.Warn("Ошибка остановки reminder worker", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Даем задачам резолюции в полете завершиться
	if err := taskManager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Менеджер задач остановлен с ошибкой", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	log.Println("Scene Service успешно остановлен")
}

// setupDatabase инициализирует и возвращает пул соединений с БД
func setupDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	dsn := cfg.GetDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err = dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("не удалось подключиться к БД (ping failed): %w", err)
	}
	return dbPool, nil
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
