// Package config provides configuration management for the portfolio bridge
// service. It loads configuration from environment variables and .env files.
package config

import (
	"encoding/hex"
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
	Exchange  ExchangeConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
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

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ExchangeConfig holds exchange client configuration
type ExchangeConfig struct {
	// BaseURL overrides the production endpoint; empty uses the default.
	BaseURL string
	// TestnetBaseURL overrides the testnet endpoint; empty uses the default.
	TestnetBaseURL string
	RecvWindow     time.Duration
	RequestTimeout time.Duration
}

// AuthConfig holds session and credential-store configuration
type AuthConfig struct {
	// EncryptionKey is the decoded 32-byte key for API secrets at rest.
	EncryptionKey []byte
	// ServiceKey guards the internal session-issuing endpoint.
	ServiceKey string
	SessionTTL time.Duration
}

// RateLimitConfig holds per-user API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
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
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	encryptionKey, err := loadEncryptionKey()
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_bridge"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Exchange: ExchangeConfig{
			BaseURL:        getEnv("EXCHANGE_BASE_URL", ""),
			TestnetBaseURL: getEnv("EXCHANGE_TESTNET_BASE_URL", ""),
			RecvWindow:     getEnvAsDuration("EXCHANGE_RECV_WINDOW", 5*time.Second),
			RequestTimeout: getEnvAsDuration("EXCHANGE_REQUEST_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			EncryptionKey: encryptionKey,
			ServiceKey:    getEnv("AUTH_SERVICE_KEY", ""),
			SessionTTL:    getEnvAsDuration("AUTH_SESSION_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// loadEncryptionKey decodes CREDENTIALS_ENCRYPTION_KEY. The key is required:
// a server without it could not decrypt any stored credential.
func loadEncryptionKey() ([]byte, error) {
	encoded := os.Getenv("CREDENTIALS_ENCRYPTION_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY is required")
	}

	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
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
