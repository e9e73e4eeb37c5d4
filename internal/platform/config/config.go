// Package config builds process configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Auth     Auth
	Webhook  Webhook
	Fiscal   Fiscal
	Worker   Worker
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres captures the database connection settings. An empty DSN selects
// the in-memory stores, which keeps local development free of infrastructure.
type Postgres struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis captures the optional tail-cache backend. An empty URL disables it.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the payment event consumer settings. Empty brokers disable
// consumption; payments can still be ingested over HTTP.
type Kafka struct {
	Brokers       []string
	PaymentsTopic string
	ConsumerGroup string
}

// Auth captures token validation settings.
type Auth struct {
	JWTSigningKey string
	Issuer        string
}

// Webhook captures the shared secret for fiscal provider callbacks.
type Webhook struct {
	FiscalSecret string
}

// Fiscal captures the outbound fiscal authority gateway. An empty URL makes
// every submission terminally unsupported, which keeps the rest of the system
// usable without a provider contract.
type Fiscal struct {
	ProviderURL string
}

// Worker captures the background job runner settings.
type Worker struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envOr("KEEL_ADDR", ":8080"),
			ShutdownTimeout: envDuration("KEEL_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("KEEL_POSTGRES_DSN"),
			MaxOpenConns: envInt("KEEL_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("KEEL_POSTGRES_MAX_IDLE_CONNS", 5),
		},
		Redis: Redis{
			URL:          os.Getenv("KEEL_REDIS_URL"),
			PoolSize:     envInt("KEEL_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("KEEL_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("KEEL_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("KEEL_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("KEEL_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:       envList("KEEL_KAFKA_BROKERS"),
			PaymentsTopic: envOr("KEEL_KAFKA_PAYMENTS_TOPIC", "payment.events"),
			ConsumerGroup: envOr("KEEL_KAFKA_CONSUMER_GROUP", "keel-billing"),
		},
		Auth: Auth{
			// The default only exists so local development works out of the box.
			JWTSigningKey: envOr("KEEL_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        envOr("KEEL_JWT_ISSUER", "keel"),
		},
		Webhook: Webhook{
			FiscalSecret: os.Getenv("KEEL_FISCAL_WEBHOOK_SECRET"),
		},
		Fiscal: Fiscal{
			ProviderURL: os.Getenv("KEEL_FISCAL_PROVIDER_URL"),
		},
		Worker: Worker{
			Concurrency:  envInt("KEEL_WORKER_CONCURRENCY", 4),
			PollInterval: envDuration("KEEL_WORKER_POLL_INTERVAL", time.Second),
			MaxAttempts:  envInt("KEEL_WORKER_MAX_ATTEMPTS", 5),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
