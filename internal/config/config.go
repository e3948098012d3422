// Package config loads the gateway configuration from the environment. A
// .env file in the working directory is read first when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Breaker  BreakerConfig
	Session  SessionConfig
	Cascade  CascadeConfig
	Upstream UpstreamConfig

	LogLevel        string
	PaymentBudgetMs int64
	BillerTimeoutMs int64
}

type ServerConfig struct {
	Port string
	Mode string
}

// RedisConfig selects the shared store. An empty URL keeps every store in memory.
type RedisConfig struct {
	URL string
}

// DatabaseConfig selects the session repository. An empty URL uses the
// in-memory repository; a "sqlite:" prefix selects sqlite, anything else postgres.
type DatabaseConfig struct {
	URL string
}

// KafkaConfig enables the command consumer when Brokers is not empty.
type KafkaConfig struct {
	Brokers      []string
	CommandTopic string
	GroupID      string
}

type BreakerConfig struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenSuccesses int
	CallTimeout       time.Duration
}

type SessionConfig struct {
	LockTTL        time.Duration
	AuthTokenTTL   time.Duration
	ReaperInterval time.Duration
	ReaperBatch    int
}

// UpstreamConfig points at the collaborator services and the biller gateway.
// An empty URL keeps the in-process mock implementation.
type UpstreamConfig struct {
	ServicesURL   string
	BillerURL     string
	APIKey        string
	BlacklistTTL  time.Duration
	SiteAdminPoll time.Duration
}

type CascadeConfig struct {
	DefaultBiller string
	Billers       []string
}

// Load reads .env (ignored when missing) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Redis:    RedisConfig{URL: getEnv("REDIS_URL", "")},
		Database: DatabaseConfig{URL: getEnv("DATABASE_URL", "")},
		Kafka: KafkaConfig{
			Brokers:      getEnvList("KAFKA_BROKERS", nil),
			CommandTopic: getEnv("KAFKA_COMMAND_TOPIC", "purchase-commands"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "purchase-gateway"),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  getEnvInt("CB_FAILURE_THRESHOLD", 3),
			ResetTimeout:      getEnvDuration("CB_RESET_TIMEOUT", 30*time.Second),
			HalfOpenSuccesses: getEnvInt("CB_HALF_OPEN_SUCCESSES", 1),
			CallTimeout:       getEnvDuration("CB_CALL_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			LockTTL:        getEnvDuration("SESSION_LOCK_TTL", 30*time.Second),
			AuthTokenTTL:   getEnvDuration("AUTH_TOKEN_TTL", 30*time.Minute),
			ReaperInterval: getEnvDuration("REAPER_INTERVAL", time.Minute),
			ReaperBatch:    getEnvInt("REAPER_BATCH", 100),
		},
		Cascade: CascadeConfig{
			DefaultBiller: getEnv("DEFAULT_BILLER", "rocketgate"),
			Billers:       getEnvList("BILLERS", []string{"rocketgate", "netbilling", "epoch"}),
		},
		Upstream: UpstreamConfig{
			ServicesURL:   getEnv("SERVICES_URL", ""),
			BillerURL:     getEnv("BILLER_URL", ""),
			APIKey:        getEnv("UPSTREAM_API_KEY", ""),
			BlacklistTTL:  getEnvDuration("BLACKLIST_TTL", 90*24*time.Hour),
			SiteAdminPoll: getEnvDuration("SITE_ADMIN_POLL", 30*time.Second),
		},
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PaymentBudgetMs: int64(getEnvInt("PAYMENT_BUDGET_MS", 25000)),
		BillerTimeoutMs: int64(getEnvInt("BILLER_TIMEOUT_MS", 10000)),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
