package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	TelegramToken string

	// Bot mode configuration
	WebhookMode bool   // If true, use webhook mode; if false, use polling mode
	WebhookURL  string // URL for webhook (required if WebhookMode is true)

	Port     string
	LogLevel string
	PageSize int // Books per catalog page

	// ClickHouse configuration
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	UseMockDB bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	// Bot mode configuration
	config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
	if config.WebhookMode {
		config.WebhookURL = strings.TrimSuffix(os.Getenv("WEBHOOK_URL"), "/")
		if config.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
		}
	}

	config.Port = getEnv("PORT", "8080")

	config.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %s (expected debug, info, warn or error)", config.LogLevel)
	}

	pageSize, err := strconv.Atoi(getEnv("PAGE_SIZE", "10"))
	if err != nil || pageSize <= 0 {
		return nil, fmt.Errorf("invalid PAGE_SIZE: must be a positive number")
	}
	config.PageSize = pageSize

	// Use Mock DB (default: false)
	config.UseMockDB = os.Getenv("USE_MOCK_DB") == "true"

	// ClickHouse configuration (required if not using mock)
	if !config.UseMockDB {
		if err := config.loadClickHouse(); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// LoadClickHouseFromEnv loads only the ClickHouse settings, for tools that
// talk to the database without running the bot
func LoadClickHouseFromEnv() (*Config, error) {
	config := &Config{}
	if err := config.loadClickHouse(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadClickHouse() error {
	c.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if c.ClickHouseHost == "" {
		return fmt.Errorf("CLICKHOUSE_HOST is required when USE_MOCK_DB is not set")
	}

	port, err := strconv.Atoi(getEnv("CLICKHOUSE_PORT", "9000"))
	if err != nil {
		return fmt.Errorf("invalid CLICKHOUSE_PORT: %w", err)
	}
	c.ClickHousePort = port

	c.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
	c.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
	// Password is optional, can be empty
	c.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
	c.ClickHouseUseTLS = os.Getenv("CLICKHOUSE_USE_TLS") == "true"
	return nil
}

// ClickHouseDSN returns the connection string used by the migration tool
func (c *Config) ClickHouseDSN() string {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=10s&max_execution_time=60",
		c.ClickHouseUser, c.ClickHousePassword, c.ClickHouseHost, c.ClickHousePort, c.ClickHouseDatabase)
	if c.ClickHouseUseTLS {
		dsn += "&secure=true"
	}
	return dsn
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
