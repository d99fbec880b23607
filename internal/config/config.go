// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all client configuration
type Config struct {
	// Environment
	Environment string

	// Chat server endpoints
	ServerURL string // REST base (history, actions)
	SocketURL string // push channel

	// Session
	Token  string
	UserID string // derived from the token when empty

	// Local ops HTTP surface
	OpsPort string

	// Reconciliation
	PendingWindow time.Duration

	// HTTP
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		ServerURL: getEnv("CHAT_SERVER_URL", "http://localhost:5000"),
		SocketURL: getEnv("CHAT_SOCKET_URL", "ws://localhost:5000/ws"),

		Token:  getEnv("CHAT_TOKEN", ""),
		UserID: getEnv("CHAT_USER_ID", ""),

		OpsPort: getEnv("OPS_PORT", "8091"),

		PendingWindow:  getEnvDuration("PENDING_WINDOW", "30s"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", "10s"),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("chat server URL is required")
	}
	if c.SocketURL == "" {
		return fmt.Errorf("chat socket URL is required")
	}
	if c.Token == "" && c.UserID == "" {
		return fmt.Errorf("either CHAT_TOKEN or CHAT_USER_ID must be set")
	}
	if c.PendingWindow <= 0 {
		return fmt.Errorf("pending window must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvDuration gets a duration environment variable with a fallback
func getEnvDuration(key, fallback string) time.Duration {
	value := getEnv(key, fallback)
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	parsed, _ := time.ParseDuration(fallback)
	return parsed
}
