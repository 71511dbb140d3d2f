package kafka

import "fmt"

// Config содержит конфигурацию для подключения к Kafka.
// Локально (go run) брокер доступен как localhost:19092, в Docker как kafka:9092.
type Config struct {
	// Brokers - список брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// AlertTopic - топик событий алертов (pharmacy.alert.raised)
	AlertTopic string `env:"KAFKA_ALERT_TOPIC" envDefault:"pharmacy.alerts.raised"`
	// MovementTopic - топик событий stock.movements.recorded; пустое значение отключает публикацию
	MovementTopic string `env:"KAFKA_MOVEMENT_TOPIC" envDefault:"stock.movements"`
}

// DefaultConfig возвращает конфигурацию для локальной разработки
func DefaultConfig() Config {
	return Config{
		Brokers:       []string{"localhost:19092"},
		AlertTopic:    "pharmacy.alerts.raised",
		MovementTopic: "stock.movements",
	}
}

// Enabled - true, если задан хотя бы один брокер
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.Enabled() && c.AlertTopic == "" {
		return fmt.Errorf("KAFKA_ALERT_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}
