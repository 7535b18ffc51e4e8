package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server configuration. Values come from the environment
// (optionally via a .env file); flags in cmd/relay-server override them.
type Config struct {
	// Server settings
	Host string
	Port int

	// Admin API auth token. Empty disables the write surface.
	AdminToken string

	// Storage
	DBPath string

	// SLA catalog
	DefinitionsDir string
	SchemaPath     string

	// Metric collector settings
	CollectorType string // "prometheus" or "synthetic"
	PrometheusURL string
	FixturesDir   string

	// Evaluation settings
	EvaluationInterval time.Duration
	CollectorTimeout   time.Duration
	EvalConcurrency    int

	// Delivery settings
	DeliveryPollInterval     time.Duration
	DeliveryHTTPTimeout      time.Duration
	DeliveryConcurrency      int
	EndpointFailureThreshold int

	// Operational settings
	LogLevel                string
	Development             bool
	GracefulShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Host:           envStr("RELAY_HOST", "0.0.0.0"),
		Port:           envInt("RELAY_PORT", 8080),
		AdminToken:     envStr("RELAY_ADMIN_TOKEN", ""),
		DBPath:         envStr("RELAY_DB_PATH", "relay.db"),
		DefinitionsDir: envStr("RELAY_DEFINITIONS_DIR", "definitions"),
		SchemaPath:     envStr("RELAY_SCHEMA_PATH", "schemas/sla_v1.json"),
		CollectorType:  envStr("RELAY_COLLECTOR", "synthetic"),
		PrometheusURL:  envStr("RELAY_PROMETHEUS_URL", ""),
		FixturesDir:    envStr("RELAY_FIXTURES_DIR", "fixtures"),

		EvaluationInterval: envDuration("RELAY_EVALUATION_INTERVAL", time.Minute),
		CollectorTimeout:   envDuration("RELAY_COLLECTOR_TIMEOUT", 10*time.Second),
		EvalConcurrency:    envInt("RELAY_EVAL_CONCURRENCY", 4),

		DeliveryPollInterval:     envDuration("RELAY_DELIVERY_POLL_INTERVAL", 10*time.Second),
		DeliveryHTTPTimeout:      envDuration("RELAY_DELIVERY_HTTP_TIMEOUT", 30*time.Second),
		DeliveryConcurrency:      envInt("RELAY_DELIVERY_CONCURRENCY", 8),
		EndpointFailureThreshold: envInt("RELAY_ENDPOINT_FAILURE_THRESHOLD", 10),

		LogLevel:                envStr("RELAY_LOG_LEVEL", "info"),
		Development:             envBool("RELAY_DEV", false),
		GracefulShutdownTimeout: envDuration("RELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}

	if c.DefinitionsDir == "" {
		return fmt.Errorf("definitions directory is required")
	}

	if c.CollectorType != "prometheus" && c.CollectorType != "synthetic" {
		return fmt.Errorf("collector type must be 'prometheus' or 'synthetic'")
	}

	if c.CollectorType == "prometheus" && c.PrometheusURL == "" {
		return fmt.Errorf("Prometheus URL required when collector type is 'prometheus'")
	}

	if c.EvaluationInterval < time.Second {
		return fmt.Errorf("evaluation interval must be at least 1s")
	}

	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
