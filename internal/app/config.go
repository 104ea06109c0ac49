package app

import (
	"time"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
	"github.com/vladislavdragonenkov/babyfood/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/babyfood/internal/service/lifecycle"
)

// StorageDriver выбирает реализацию хранилищ.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// DefaultPaymentEventsGroup — consumer group обработчика платёжных событий.
const DefaultPaymentEventsGroup = "babyfood-payments"

// Config описывает настройки запуска магазина.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	// RedisAddr включает корзины и счётчик номеров в Redis. Пустое значение — без Redis.
	RedisAddr string

	// KafkaBrokers — список брокеров через запятую. Пустое значение отключает Kafka.
	KafkaBrokers       string
	PaymentEventsGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	// RetentionInterval задаёт период очистки просроченных попыток оформления
	// и опубликованных событий старше OutboxRetention.
	RetentionInterval  time.Duration
	RetentionBatchSize int
	OutboxRetention    time.Duration

	// SweepInterval > 0 запускает периодический проход по просроченным заказам внутри процесса.
	SweepInterval  time.Duration
	SweepBatchSize int

	FreeShippingThresholdMinor int64
	ShippingFeeMinor           int64
	OrderNumberPrefix          string
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                   ":8080",
		MetricsAddr:                ":9090",
		LogLevel:                   "info",
		StorageDriver:              StorageDriverMemory,
		PostgresAutoMigrate:        true,
		PaymentEventsGroup:         DefaultPaymentEventsGroup,
		OutboxPollInterval:         time.Second,
		OutboxBatchSize:            100,
		OutboxMaxAttempts:          3,
		OutboxRetryDelay:           50 * time.Millisecond,
		RetentionInterval:          time.Minute,
		RetentionBatchSize:         500,
		OutboxRetention:            72 * time.Hour,
		SweepBatchSize:             100,
		FreeShippingThresholdMinor: domain.DefaultFreeShippingThresholdMinor,
		ShippingFeeMinor:           domain.DefaultShippingFeeMinor,
		OrderNumberPrefix:          lifecycle.DefaultNumberPrefix,
	}
}

// ShippingPolicy собирает политику доставки из порога и тарифа.
func (c Config) ShippingPolicy() domain.ShippingPolicy {
	return domain.ShippingPolicy{
		FreeThresholdMinor: c.FreeShippingThresholdMinor,
		FlatFeeMinor:       c.ShippingFeeMinor,
	}
}

// KafkaEnabled сообщает, что брокеры заданы.
func (c Config) KafkaEnabled() bool {
	return len(kafka.SplitBrokers(c.KafkaBrokers)) > 0
}
