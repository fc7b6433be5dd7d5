// Package config loads and validates service configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Pool      PoolConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// GatewayConfig configures the refund client of the payment gateway.
type GatewayConfig struct {
	BaseURL      string
	SecretKey    string
	Timeout      time.Duration
	RefundReason string
}

// PoolConfig holds ledger-wide settings.
type PoolConfig struct {
	Currency               string
	DefaultCancellationFee decimal.Decimal
	StatsCacheTTL          time.Duration
	RetryEnabled           bool
	RetryInterval          time.Duration
	RetryBatchSize         int
	ReconcileInterval      time.Duration
	IdempotencyTTL         time.Duration
}

type RateLimitConfig struct {
	GlobalPerMinute int
	APIPerMinute    int
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),
		},
		Gateway: GatewayConfig{
			BaseURL:      strings.TrimRight(getEnv("PAYMONGO_BASE_URL", "https://api.paymongo.com/v1"), "/"),
			SecretKey:    getEnv("PAYMONGO_SECRET_KEY", ""),
			Timeout:      getDurationEnv("PAYMONGO_TIMEOUT", 15*time.Second),
			RefundReason: getEnv("PAYMONGO_REFUND_REASON", "requested_by_customer"),
		},
		Pool: PoolConfig{
			Currency:               strings.ToUpper(getEnv("POOL_CURRENCY", "PHP")),
			DefaultCancellationFee: getDecimalEnv("POOL_DEFAULT_CANCELLATION_FEE", decimal.NewFromInt(5)),
			StatsCacheTTL:          getDurationEnv("POOL_STATS_CACHE_TTL", time.Minute),
			RetryEnabled:           getBoolEnv("POOL_RETRY_ENABLED", false),
			RetryInterval:          getDurationEnv("POOL_RETRY_INTERVAL", 15*time.Minute),
			RetryBatchSize:         getIntEnv("POOL_RETRY_BATCH_SIZE", 50),
			ReconcileInterval:      getDurationEnv("POOL_RECONCILE_INTERVAL", time.Hour),
			IdempotencyTTL:         getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			GlobalPerMinute: getIntEnv("RATE_LIMIT_GLOBAL_PER_MINUTE", 150),
			APIPerMinute:    getIntEnv("RATE_LIMIT_API_PER_MINUTE", 60),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
