package config

import (
	"fmt"

	"github.com/costwarden/costwarden/internal/env"
)

// TestConfig holds configuration for integration and benchmark tests.
// Tests skip when TestDSN is unset.
type TestConfig struct {
	// TestDSN points at a disposable database; its tables are truncated
	// between tests.
	TestDSN string `env:"COSTWARDEN_TEST_POSTGRES_URL"`
}

// LoadTestConfig loads test configuration from environment.
func LoadTestConfig() (*TestConfig, error) {
	cfg := &TestConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load test config: %w", err)
	}

	return cfg, nil
}
