// Package config provides environment configuration for the chat client
// and the development server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Backend endpoints
	APIBaseURL string
	WSBaseURL  string

	// Reconnection policy
	ReconnectBase        time.Duration
	ReconnectMaxAttempts int

	// REST transport
	RequestTimeout time.Duration

	// Logging
	LogLevel string
	LogFile  string

	// Client login
	Username string
	Password string

	// Devserver settings
	DevServerPort      string
	DevServerJWTSecret string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	OpenAIAPIKey       string
	OpenAIModel        string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		APIBaseURL: getEnv("API_BASE_URL", "http://127.0.0.1:8000"),
		WSBaseURL:  getEnv("WS_BASE_URL", "ws://127.0.0.1:8000"),

		// Reconnection
		ReconnectBase:        getDurationEnv("RECONNECT_BASE", time.Second),
		ReconnectMaxAttempts: getIntEnv("RECONNECT_MAX_ATTEMPTS", 5),

		// REST
		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "chat-client.log"),

		// Client login
		Username: getEnv("CHAT_USERNAME", "demo"),
		Password: getEnv("CHAT_PASSWORD", "demo"),

		// Devserver
		DevServerPort:      getEnv("PORT", "8000"),
		DevServerJWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),
		RateLimitRequests:  getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
