package config

import (
	"fmt"
	"time"

	"github.com/costwarden/costwarden/internal/env"
)

// ServerConfig holds all configuration for the API server binary.
type ServerConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Cloud         CloudConfig
	Observability ObservabilityConfig

	Environment string `env:"ENVIRONMENT" default:"dev"`

	HTTPPort        string        `env:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" default:"1048576"`

	// InternalAPISecret guards the internal process-trigger endpoint.
	// Compared in constant time.
	InternalAPISecret string `env:"INTERNAL_API_SECRET"`

	// Request-level rate limiting.
	RateLimitEnabled   bool `env:"RATELIMIT_ENABLED" default:"false"`
	RateLimitPerMinute int  `env:"RATELIMIT_PER_MINUTE" default:"120"`
}

// LoadServerConfig loads and validates server configuration from environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that the env loader cannot express.
func (c *ServerConfig) Validate() error {
	if err := c.Database.ValidateForEnvironment(c.Environment); err != nil {
		return err
	}
	if IsProduction(c.Environment) && c.InternalAPISecret == "" {
		return fmt.Errorf("INTERNAL_API_SECRET is required in production")
	}
	if c.RateLimitEnabled && c.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATELIMIT_PER_MINUTE must be at least 1 when RATELIMIT_ENABLED, got %d", c.RateLimitPerMinute)
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("HTTP_MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}
