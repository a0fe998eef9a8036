package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

const envPrefix = "RETURNS"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Переменные окружения читаются с префиксом RETURNS_.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER" default:"memory"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`

	JWTSecret     string `envconfig:"JWT_SECRET"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	KafkaBrokers          []string `envconfig:"KAFKA_BROKERS"`
	KafkaLifecycleTopic   string   `envconfig:"KAFKA_LIFECYCLE_TOPIC" default:"returns.lifecycle.events"`
	KafkaOrderEventsTopic string   `envconfig:"KAFKA_ORDER_EVENTS_TOPIC" default:"returns.order.events"`
	KafkaDLQTopic         string   `envconfig:"KAFKA_DLQ_TOPIC" default:"returns.dlq"`
	KafkaConsumerGroup    string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"returns-service"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"100ms"`
	OutboxMaxPending   int           `envconfig:"OUTBOX_MAX_PENDING" default:"1000"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"1m"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"500"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"returns@localhost"`

	StripeSecretKey        string        `envconfig:"STRIPE_SECRET_KEY"`
	GatewayTimeout         time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	GatewayBreakerFailures int           `envconfig:"GATEWAY_BREAKER_FAILURES" default:"5"`
	GatewayBreakerReset    time.Duration `envconfig:"GATEWAY_BREAKER_RESET" default:"30s"`

	DispatchConcurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"32"`
	DispatchTaskTimeout time.Duration `envconfig:"DISPATCH_TASK_TIMEOUT" default:"30s"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	AllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`
}

// DefaultConfig возвращает конфигурацию по умолчанию без чтения окружения.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		LogLevel:                    "info",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PublicBaseURL:               "http://localhost:8080",
		KafkaLifecycleTopic:         "returns.lifecycle.events",
		KafkaOrderEventsTopic:       "returns.order.events",
		KafkaDLQTopic:               "returns.dlq",
		KafkaConsumerGroup:          "returns-service",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		SMTPPort:                    587,
		SMTPFrom:                    "returns@localhost",
		GatewayTimeout:              10 * time.Second,
		GatewayBreakerFailures:      5,
		GatewayBreakerReset:         30 * time.Second,
		DispatchConcurrency:         32,
		DispatchTaskTimeout:         30 * time.Second,
		ShutdownTimeout:             10 * time.Second,
	}
}

// LoadConfig читает .env (если есть) и переменные окружения RETURNS_*.
// Отсутствующий .env не считается ошибкой.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = multierr.Append(errs, errors.New("postgres storage driver requires POSTGRES_DSN"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = multierr.Append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxMaxPending <= 0 {
		errs = multierr.Append(errs, errors.New("outbox worker settings must be positive"))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = multierr.Append(errs, errors.New("idempotency settings must be positive"))
	}
	if c.DispatchConcurrency <= 0 || c.DispatchTaskTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("dispatch settings must be positive"))
	}
	if c.GatewayTimeout <= 0 {
		errs = multierr.Append(errs, errors.New("gateway timeout must be positive"))
	}
	return errs
}
