package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPass        string
	DBHost        string
	DBPort        string
	DBName        string
	SSLMode       string
	RedisHost     string
	RedisPort     string
	NatsHost      string
	NatsPort      string
	ApiPort       string
	ApiEnabled    string
	WorkerEnabled string
	PricingTTLSec int
}

// New loads and validates configuration from environment variables.
// HTTP server is optional: if VOWSUITE_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start. The ledger notifier worker
// is opt-out via VOWSUITE_WORKER_ENABLED=false.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("VOWSUITE_POSTGRES_USER"),
		DBPass:        os.Getenv("VOWSUITE_POSTGRES_PASSWORD"),
		DBHost:        os.Getenv("VOWSUITE_POSTGRES_HOST"),
		DBPort:        os.Getenv("VOWSUITE_POSTGRES_PORT"),
		DBName:        os.Getenv("VOWSUITE_POSTGRES_DB"),
		SSLMode:       os.Getenv("VOWSUITE_POSTGRES_SSLMODE"),
		RedisHost:     os.Getenv("VOWSUITE_REDIS_HOST"),
		RedisPort:     os.Getenv("VOWSUITE_REDIS_PORT"),
		NatsHost:      os.Getenv("VOWSUITE_NATS_HOST"),
		NatsPort:      os.Getenv("VOWSUITE_NATS_PORT"),
		ApiPort:       os.Getenv("VOWSUITE_API_PORT"),
		ApiEnabled:    os.Getenv("VOWSUITE_API_ENABLED"),
		WorkerEnabled: os.Getenv("VOWSUITE_WORKER_ENABLED"),
		PricingTTLSec: getEnvInt("VOWSUITE_PRICING_CACHE_TTL", 300),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: VOWSUITE_POSTGRES_USER/HOST/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: VOWSUITE_REDIS_HOST/PORT")
	}

	// Required: nats (ledger event bus + credit command topic)
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: VOWSUITE_NATS_HOST/PORT")
	}

	if cfg.WorkerEnabled == "" {
		cfg.WorkerEnabled = "true"
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if VOWSUITE_API_ENABLED != "true" — callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("VOWSUITE_API_PORT is required when VOWSUITE_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (VOWSUITE_API_ENABLED != true)")
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}
