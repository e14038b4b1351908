// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	Port              int
	LogLevel          string
	DevMode           bool
	ReportingCurrency string        // Default currency valuations are reported in
	MarketConcurrency int           // Concurrent outbound market data calls (default 1)
	MarketDelay       time.Duration // Minimum delay between outbound market data calls
	MarketTimeout     time.Duration // HTTP timeout for market data calls
	RefreshCronSpec   string        // Cron expression for the nightly cache warm job
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic
	// 1. Check PORTVIEW_DATA_DIR environment variable
	// 2. If not set, default to ./data
	// 3. Always resolve to absolute path and ensure the directory exists
	dataDir := getEnv("PORTVIEW_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("PORT", 8080),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		ReportingCurrency: getEnv("REPORTING_CURRENCY", "EUR"),
		MarketConcurrency: getEnvAsInt("MARKET_DATA_CONCURRENCY", 1),
		MarketDelay:       time.Duration(getEnvAsInt("MARKET_DATA_DELAY_MS", 1500)) * time.Millisecond,
		MarketTimeout:     time.Duration(getEnvAsInt("MARKET_DATA_TIMEOUT_S", 30)) * time.Second,
		RefreshCronSpec:   getEnv("REFRESH_CRON", "0 0 6 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.ReportingCurrency == "" {
		return fmt.Errorf("reporting currency must not be empty")
	}
	if c.MarketConcurrency < 1 {
		return fmt.Errorf("market data concurrency must be at least 1, got %d", c.MarketConcurrency)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
