package config

import (
	"fmt"
	"log"

	"scene-server/shared/utils"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config содержит всю конфигурацию для WebSocket сервиса.
type Config struct {
	Server   ServerConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
	Log      LogConfig
}

// ServerConfig содержит настройки HTTP сервера.
type ServerConfig struct {
	Port string `yaml:"port" env:"WEBSOCKET_SERVER_PORT" env-default:"8085"`
}

// RabbitMQConfig содержит настройки для подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL" env-required:"true"`
	QueueName string `yaml:"queue_name" env:"CLIENT_UPDATES_QUEUE_NAME" env-default:"client_updates"`
}

// AuthConfig содержит настройки проверки токена при апгрейде соединения.
type AuthConfig struct {
	// JWTSecret загружается из секрета, не из окружения.
	JWTSecret string
}

// LogConfig содержит настройки логирования.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// LoadConfig загружает конфигурацию из config.yml (если есть), переменных
// окружения и файлов секретов.
func LoadConfig() (*Config, error) {
	configPath := "config.yml"

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v. Попытка чтения из переменных окружения.", configPath, err)
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
	}

	var loadErr error
	cfg.Auth.JWTSecret, loadErr = utils.ReadSecret("jwt_secret")
	if loadErr != nil {
		return nil, loadErr
	}

	log.Printf("Конфигурация WebSocket сервиса загружена (секреты из файлов):")
	log.Printf("  Port: %s", cfg.Server.Port)
	log.Printf("  RabbitMQ URL: %s", cfg.RabbitMQ.URL)
	log.Printf("  Client Updates Queue Name: %s", cfg.RabbitMQ.QueueName)
	log.Println("  JWT Secret: [ЗАГРУЖЕН]")

	return &cfg, nil
}
