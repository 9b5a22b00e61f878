package config

import (
	"fmt"
	"log"
	"time"

	"scene-server/shared/utils"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для Scene Service
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"SCENE_SERVER_PORT" default:"8084"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки RabbitMQ
	RabbitMQURL            string `envconfig:"RABBITMQ_URL" required:"true"`
	ClientUpdatesQueueName string `envconfig:"CLIENT_UPDATES_QUEUE_NAME" default:"client_updates"`
	PushQueueName          string `envconfig:"PUSH_NOTIFICATIONS_QUEUE_NAME" default:"push_notifications"`

	// Внешние сервисы
	CampaignServiceURL  string        `envconfig:"CAMPAIGN_SERVICE_URL" required:"true"`
	ResolverServiceURL  string        `envconfig:"RESOLVER_SERVICE_URL" required:"true"`
	ResolverTimeout     time.Duration `envconfig:"RESOLVER_TIMEOUT" default:"90s"`
	ClientCallTimeout   time.Duration `envconfig:"CLIENT_CALL_TIMEOUT" default:"5s"`
	MaxResolutionsInFly int           `envconfig:"MAX_RESOLUTIONS_IN_FLIGHT" default:"20"`

	// Свипер напоминаний
	ReminderSweepInterval time.Duration `envconfig:"REMINDER_SWEEP_INTERVAL" default:"15s"`

	// Настройки JWT (для проверки токена пользователя в middleware)
	// Секретное поле БЕЗ envconfig тега
	JWTSecret string
	// Секрет для межсервисных вызовов (campaign/resolver)
	InterServiceSecret string
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов
func LoadConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации scene-service: %w", err)
	}

	// Загружаем ОБЯЗАТЕЛЬНЫЕ секреты
	var loadErr error
	cfg.DBPassword, loadErr = utils.ReadSecret("db_password")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.JWTSecret, loadErr = utils.ReadSecret("jwt_secret")
	if loadErr != nil {
		return nil, loadErr
	}

	cfg.InterServiceSecret, loadErr = utils.ReadSecret("inter_service_secret")
	if loadErr != nil {
		return nil, loadErr
	}

	log.Printf("Конфигурация Scene Service загружена (секреты из файлов):")
	log.Printf("  Port: %s", cfg.Port)
	log.Printf("  LogLevel: %s", cfg.LogLevel)
	log.Printf("  DB DSN: postgres://%s:***@%s:%s/%s?sslmode=%s", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
	log.Printf("  RabbitMQ URL: %s", cfg.RabbitMQURL)
	log.Printf("  Client Updates Queue Name: %s", cfg.ClientUpdatesQueueName)
	log.Printf("  Push Queue Name: %s", cfg.PushQueueName)
	log.Printf("  Campaign Service URL: %s", cfg.CampaignServiceURL)
	log.Printf("  Resolver Service URL: %s", cfg.ResolverServiceURL)
	log.Printf("  Resolver Timeout: %v", cfg.ResolverTimeout)
	log.Printf("  Reminder Sweep Interval: %v", cfg.ReminderSweepInterval)
	log.Println("  JWT Secret: [ЗАГРУЖЕН]")

	return &cfg, nil
}
