package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Переменные окружения конфигурации.
const (
	EnvHTTPAddr                   = "BF_HTTP_ADDR"
	EnvMetricsAddr                = "BF_METRICS_ADDR"
	EnvLogLevel                   = "BF_LOG_LEVEL"
	EnvStorageDriver              = "BF_STORAGE_DRIVER"
	EnvPostgresDSN                = "BF_POSTGRES_DSN"
	EnvPostgresAutoMigrate        = "BF_POSTGRES_AUTO_MIGRATE"
	EnvRedisAddr                  = "BF_REDIS_ADDR"
	EnvKafkaBrokers               = "KAFKA_BROKERS"
	EnvPaymentEventsGroup         = "BF_PAYMENT_EVENTS_GROUP"
	EnvOutboxPollInterval         = "BF_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize            = "BF_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts          = "BF_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay           = "BF_OUTBOX_RETRY_DELAY"
	EnvRetentionInterval          = "BF_RETENTION_INTERVAL"
	EnvRetentionBatchSize         = "BF_RETENTION_BATCH_SIZE"
	EnvOutboxRetention            = "BF_OUTBOX_RETENTION"
	EnvSweepInterval              = "BF_SWEEP_INTERVAL"
	EnvSweepBatchSize             = "BF_SWEEP_BATCH_SIZE"
	EnvFreeShippingThresholdMinor = "BF_FREE_SHIPPING_THRESHOLD_MINOR"
	EnvShippingFeeMinor           = "BF_SHIPPING_FEE_MINOR"
	EnvOrderNumberPrefix          = "BF_ORDER_NUMBER_PREFIX"
)

// EnvLookup совместим с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// ConfigFromEnv накладывает переменные окружения на DefaultConfig. Некорректные
// значения не валят запуск: остаётся значение по умолчанию, а в warnings
// попадает описание проблемы.
func ConfigFromEnv(lookup EnvLookup) (Config, []string) {
	cfg := DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	setString := func(key string, dst *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*dst = strings.TrimSpace(raw)
		}
	}
	setBool := func(key string, dst *bool) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setInt := func(key string, dst *int, valid func(int) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseInt(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setInt64 := func(key string, dst *int64) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err == nil && value < 0 {
			err = fmt.Errorf("must be >= 0")
		}
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}
	setDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*dst = value
	}

	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	setString(EnvHTTPAddr, &cfg.HTTPAddr)
	setString(EnvMetricsAddr, &cfg.MetricsAddr)
	setString(EnvLogLevel, &cfg.LogLevel)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if raw, ok := lookup(EnvStorageDriver); ok && strings.TrimSpace(raw) != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(strings.TrimSpace(raw)))
	}
	setString(EnvPostgresDSN, &cfg.PostgresDSN)
	setBool(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setString(EnvRedisAddr, &cfg.RedisAddr)
	setString(EnvKafkaBrokers, &cfg.KafkaBrokers)
	setString(EnvPaymentEventsGroup, &cfg.PaymentEventsGroup)

	setDuration(EnvOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(EnvOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	setInt(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	setDuration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	setDuration(EnvRetentionInterval, &cfg.RetentionInterval, positiveDuration, "must be > 0")
	setInt(EnvRetentionBatchSize, &cfg.RetentionBatchSize, positive, "must be > 0")
	setDuration(EnvOutboxRetention, &cfg.OutboxRetention, positiveDuration, "must be > 0")

	setDuration(EnvSweepInterval, &cfg.SweepInterval, nonNegativeDuration, "must be >= 0")
	setInt(EnvSweepBatchSize, &cfg.SweepBatchSize, positive, "must be > 0")

	setInt64(EnvFreeShippingThresholdMinor, &cfg.FreeShippingThresholdMinor)
	setInt64(EnvShippingFeeMinor, &cfg.ShippingFeeMinor)
	setString(EnvOrderNumberPrefix, &cfg.OrderNumberPrefix)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}
