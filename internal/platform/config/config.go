// Package config builds process configuration from environment variables so
// main stays lean. Provider credentials are injected explicitly into the
// components that need them; nothing reads the environment after startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SummaryFailMode controls how a webhook classifies a completed process when
// the provider summary fetch itself fails.
type SummaryFailMode string

const (
	// SummaryFailOpen classifies the verification as passed when the
	// summary cannot be fetched.
	SummaryFailOpen SummaryFailMode = "fail_open"
	// SummaryFailManualReview parks the profile in manual_review instead.
	SummaryFailManualReview SummaryFailMode = "manual_review"
)

// Config is the root configuration for the engine.
type Config struct {
	Addr          string
	JWTSigningKey string
	PostgresURL   string
	Redis         RedisConfig
	Credas        CredasConfig
	Kafka         KafkaConfig
	Integration   IntegrationConfig
}

// RedisConfig configures the optional Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CredasConfig carries the identity-verification provider settings.
type CredasConfig struct {
	APIKey          string
	BaseURL         string
	JourneyID       string
	WebhookURL      string
	RequestTimeout  time.Duration
	SummaryFailMode SummaryFailMode
}

// KafkaConfig configures the optional audit mirror.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// IntegrationConfig bounds automatic retry behavior for integration events.
type IntegrationConfig struct {
	MaxRetries int
}

// FromEnv builds a Config from environment variables with development
// defaults for everything except provider credentials.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("FUNDGATE_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Credas: CredasConfig{
			APIKey:          os.Getenv("CREDAS_API_KEY"),
			BaseURL:         envOr("CREDAS_BASE_URL", "https://portal.credas.com"),
			JourneyID:       envOr("CREDAS_JOURNEY_ID", "9429d6b1-de6e-4fac-8343-9a48c4d5534f"),
			WebhookURL:      os.Getenv("CREDAS_WEBHOOK_URL"),
			RequestTimeout:  envDuration("CREDAS_TIMEOUT", 10*time.Second),
			SummaryFailMode: summaryFailMode(os.Getenv("CREDAS_SUMMARY_FAIL_MODE")),
		},
		Kafka: KafkaConfig{
			Brokers:    splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("AUDIT_TOPIC", "fundgate.audit"),
		},
		Integration: IntegrationConfig{
			MaxRetries: envInt("INTEGRATION_MAX_RETRIES", 3),
		},
	}
	return cfg
}

func summaryFailMode(raw string) SummaryFailMode {
	if SummaryFailMode(raw) == SummaryFailManualReview {
		return SummaryFailManualReview
	}
	return SummaryFailOpen
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
