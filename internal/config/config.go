package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EmailProviderSMTP     = "smtp"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "aws-ses"
)

type Config struct {
	Server   ServerConfig
	Email    EmailConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Cleanup  CleanupConfig
	Gateway  GatewayConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers       []string
	Enabled       bool
	ConsumerGroup string
	Topics        TopicConfig
}

type TopicConfig struct {
	CleanupRuns          string
	PaymentEvents        string
	GatewayConfirmations string
}

type DatabaseConfig struct {
	DSN          string
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
	Migrations   string
}

// CleanupConfig drives the expiry reconciler. TimeoutWindow is the gateway's
// hard session limit and is shared by the store query and the reconciler.
type CleanupConfig struct {
	Enabled         bool
	IntervalMinutes int
	TimeoutWindow   time.Duration
	DistributedLock bool
	LockTTL         time.Duration
}

type EmailConfig struct {
	Provider string
	From     string
	FromName string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	SendGridAPIKey string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
}

type GatewayConfig struct {
	StripeSecretKey string
}

type AuthConfig struct {
	OIDCIssuer string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", ":8085"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Email: EmailConfig{
			Provider:           strings.ToLower(getEnv("EMAIL_SERVICE", EmailProviderSMTP)),
			From:               getEnv("EMAIL_FROM", "no-reply@example.com"),
			FromName:           getEnv("EMAIL_FROM_NAME", "Payments"),
			SMTPHost:           getEnv("SMTP_HOST", "localhost"),
			SMTPPort:           getEnvInt("SMTP_PORT", 587),
			SMTPUsername:       getEnv("SMTP_USER", ""),
			SMTPPassword:       getEnv("SMTP_PASS", ""),
			SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
			AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
			AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "payment_user"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "payments"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
			Migrations:   getEnv("DB_MIGRATIONS_DIR", "./migrations"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Enabled:       getEnvBool("KAFKA_ENABLED", false),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "ms-payments"),
			Topics: TopicConfig{
				CleanupRuns:          getEnv("KAFKA_TOPIC_CLEANUP_RUNS", "payments.cleanup.runs"),
				PaymentEvents:        getEnv("KAFKA_TOPIC_PAYMENT_EVENTS", "payments.events"),
				GatewayConfirmations: getEnv("KAFKA_TOPIC_GATEWAY_CONFIRMATIONS", "payments.gateway.confirmations"),
			},
		},
		Cleanup: CleanupConfig{
			Enabled:         getEnvBool("CLEANUP_ENABLED", true),
			IntervalMinutes: getEnvInt("CLEANUP_INTERVAL_MINUTES", 5),
			TimeoutWindow:   time.Duration(getEnvInt("PAYMENT_TIMEOUT_MINUTES", 15)) * time.Minute,
			DistributedLock: getEnvBool("CLEANUP_DISTRIBUTED_LOCK", false),
			LockTTL:         time.Duration(getEnvInt("CLEANUP_LOCK_TTL_MINUTES", 10)) * time.Minute,
		},
		Gateway: GatewayConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
		},
	}
}

// PostgresDSN prefers POSTGRES_DSN and otherwise builds one from the DB_* parts.
func (c DatabaseConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
