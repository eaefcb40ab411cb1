package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Content store backends
const (
	StoreBackend  = "backend"
	StorePostgres = "postgres"
)

type Config struct {
	ServerPort string
	ServerHost string

	// Document backend (validate-access, auth/me, content)
	BackendURL     string
	BackendTimeout time.Duration

	// Persistence
	ContentStore string
	SaveDebounce time.Duration
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	DBSSLMode    string

	// Sessions
	AwarenessTimeout time.Duration
	SendBuffer       int

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", getEnv("PORT", "3001")),
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),

		BackendURL:     getEnv("BACKEND_URL", getEnv("SPRING_BOOT_URL", "http://localhost:8080")),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),

		ContentStore: getEnv("CONTENT_STORE", StoreBackend),
		SaveDebounce: getEnvDuration("SAVE_DEBOUNCE", 2*time.Second),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "postgres"),
		DBPassword:   getEnv("DB_PASSWORD", "postgres"),
		DBName:       getEnv("DB_NAME", "collab_relay"),
		DBSSLMode:    getEnv("DB_SSLMODE", "disable"),

		AwarenessTimeout: getEnvDuration("AWARENESS_TIMEOUT", 30*time.Second),
		SendBuffer:       getEnvInt("SEND_BUFFER", 256),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the relay cannot run with
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.ContentStore != StoreBackend && c.ContentStore != StorePostgres {
		return fmt.Errorf("CONTENT_STORE must be %q or %q, got %q", StoreBackend, StorePostgres, c.ContentStore)
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("SAVE_DEBOUNCE must be positive")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if c.AwarenessTimeout <= 0 {
		return fmt.Errorf("AWARENESS_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if n, err := fmt.Sscanf(value, "%d", &result); err == nil && n == 1 {
			return result
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
