// Package config provides configuration for the chat service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the chat service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Inference engine settings
	EngineURL     string
	EngineAPIKey  string
	EngineModel   string
	EngineTimeout time.Duration

	// Streaming settings
	IdleTimeout   time.Duration // no token within this window -> stall error
	EvictionGrace time.Duration // registry keeps terminal sessions this long
	HistoryLimit  int           // messages of history sent to the engine

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:      getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:   getEnv("DATABASE_URL", "file:chat.db?cache=shared&mode=rwc"),
		EngineURL:     getEnv("ENGINE_URL", "http://localhost:11434"),
		EngineAPIKey:  getEnv("ENGINE_API_KEY", ""),
		EngineModel:   getEnv("ENGINE_MODEL", "gpt-oss"),
		EngineTimeout: time.Duration(getEnvInt("ENGINE_TIMEOUT_MS", 300000)) * time.Millisecond,
		IdleTimeout:   time.Duration(getEnvInt("IDLE_TIMEOUT_MS", 30000)) * time.Millisecond,
		EvictionGrace: time.Duration(getEnvInt("EVICTION_GRACE_MS", 60000)) * time.Millisecond,
		HistoryLimit:  getEnvInt("HISTORY_LIMIT", 50),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
