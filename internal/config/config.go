package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/vendasys/pos-service/pkg/config"
)

// Config holds all configuration for the POS service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"POS_HTTP_PORT" envDefault:"8010"`

	// Redis session store
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Session TTL in hours. A till left untouched past this loses its
	// in-progress sale (default: one shift and change).
	SessionTTL int `env:"POS_SESSION_TTL_HOURS" envDefault:"12"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Collaborator base URLs
	CustomersURL string `env:"CUSTOMERS_SERVICE_URL" envDefault:"http://localhost:8001"`
	CatalogURL   string `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8002"`
	SalesURL     string `env:"SALES_SERVICE_URL" envDefault:"http://localhost:8003"`

	// Collaborator call timeouts
	LookupTimeout   time.Duration `env:"POS_LOOKUP_TIMEOUT" envDefault:"5s"`
	FinalizeTimeout time.Duration `env:"POS_FINALIZE_TIMEOUT" envDefault:"15s"`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load pos config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SessionTTL < 1 {
		return fmt.Errorf("session TTL must be at least 1 hour, got %d", c.SessionTTL)
	}
	for name, u := range map[string]string{
		"customers": c.CustomersURL,
		"catalog":   c.CatalogURL,
		"sales":     c.SalesURL,
	} {
		if u == "" {
			return fmt.Errorf("%s service URL is required", name)
		}
	}
	return nil
}
