package kafka

import (
	"github.com/caarlos0/env/v10"
)

// LoadEnv загружает конфигурацию из переменных окружения поверх дефолтов.
// KAFKA_BROKERS="" оставляет список пустым и отключает публикацию.
func LoadEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}
