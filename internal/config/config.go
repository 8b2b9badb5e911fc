// Package config provides configuration management for the stockmeta services.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Billing   BillingConfig
	Client    ClientConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
	AdminKey    string
}

// BillingConfig holds the default rate table and job lifecycle settings.
// The rates here are fallbacks; the admin-editable rate card in the store
// takes precedence when present.
type BillingConfig struct {
	ExchangeRate          int64 // credits per THB
	IStockPhotoRate       int64
	IStockVideoRate       int64
	AdobePhotoRate        int64
	AdobeVideoRate        int64
	ShutterstockPhotoRate int64
	ShutterstockVideoRate int64
	JobExpiry             time.Duration
	RateCacheTTL          time.Duration
}

// ClientConfig holds batch-client configuration
type ClientConfig struct {
	ServerURL     string
	EngineURL     string
	MaxImages     int
	MaxVideos     int
	JournalPath   string
	EngineTimeout time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "stockmeta"),
				User:           getEnv("POSTGRES_USER", "stockmeta"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "stockmeta"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			TokenExpiry: getEnvAsDuration("JWT_TOKEN_EXPIRY", 168*time.Hour),
			AdminKey:    getEnv("ADMIN_API_KEY", ""),
		},
		Billing: BillingConfig{
			ExchangeRate:          getEnvAsInt64("EXCHANGE_RATE", 4),
			IStockPhotoRate:       getEnvAsInt64("ISTOCK_PHOTO_RATE", 3),
			IStockVideoRate:       getEnvAsInt64("ISTOCK_VIDEO_RATE", 3),
			AdobePhotoRate:        getEnvAsInt64("ADOBE_PHOTO_RATE", 2),
			AdobeVideoRate:        getEnvAsInt64("ADOBE_VIDEO_RATE", 2),
			ShutterstockPhotoRate: getEnvAsInt64("SHUTTERSTOCK_PHOTO_RATE", 2),
			ShutterstockVideoRate: getEnvAsInt64("SHUTTERSTOCK_VIDEO_RATE", 2),
			JobExpiry:             getEnvAsDuration("JOB_EXPIRY", 2*time.Hour),
			RateCacheTTL:          getEnvAsDuration("RATE_CACHE_TTL", 20*time.Second),
		},
		Client: ClientConfig{
			ServerURL:     getEnv("SERVER_URL", "http://localhost:8080"),
			EngineURL:     getEnv("ENGINE_URL", ""),
			MaxImages:     getEnvAsInt("MAX_CONCURRENT_IMAGES", 5),
			MaxVideos:     getEnvAsInt("MAX_CONCURRENT_VIDEOS", 2),
			JournalPath:   getEnv("JOURNAL_PATH", defaultJournalPath()),
			EngineTimeout: getEnvAsDuration("ENGINE_TIMEOUT", 120*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 120),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// defaultJournalPath returns the per-user recovery journal location
func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recovery.json"
	}
	return home + "/.stockmeta/recovery.json"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 gets an environment variable as an int64 with a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
