// Package config builds process configuration from the environment once at
// startup. Everything downstream receives the struct by reference; nothing
// reads the environment after main.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all process-level configuration.
type Config struct {
	Addr string

	JWT JWTConfig

	// ExpenseDateTolerance bounds how far in the future an expense date may
	// lie before submission is rejected.
	ExpenseDateTolerance time.Duration

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	// NotificationBuffer sizes the status-change event channel. Events beyond
	// capacity are dropped and counted, never blocking a transition.
	NotificationBuffer int
}

// JWTConfig configures access token signing and validation.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
}

// PostgresConfig configures the optional SQL store. Empty DSN means the
// in-memory stores are used.
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the optional currency-rate cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional status-change notification sink.
// Empty brokers disable the sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr: envOr("EXPENSIO_ADDR", ":8080"),
		JWT: JWTConfig{
			SigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:     envOr("JWT_ISSUER", "expensio"),
			Audience:   envOr("JWT_AUDIENCE", "expensio-api"),
			AccessTTL:  envDurationOr("JWT_ACCESS_TTL", time.Hour),
		},
		ExpenseDateTolerance: envDurationOr("EXPENSE_DATE_TOLERANCE", 24*time.Hour),
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Topic: envOr("KAFKA_NOTIFICATION_TOPIC", "expensio.expense.status"),
		},
		NotificationBuffer: envIntOr("NOTIFICATION_BUFFER", 256),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
