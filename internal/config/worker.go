package config

import (
	"fmt"
	"time"

	"github.com/costwarden/costwarden/internal/env"
)

// Claim batch bounds enforced on MAX_JOBS_PER_BATCH and on the manual
// process endpoints.
const (
	DefaultJobsPerBatch = 10
	MaxJobsPerBatch     = 50
)

// WorkerConfig holds all configuration for the worker binary.
type WorkerConfig struct {
	Database      DatabaseConfig
	Redis         RedisConfig
	Cloud         CloudConfig
	Observability ObservabilityConfig

	Environment string `env:"ENVIRONMENT" default:"dev"` // dev, staging, production

	// Queue processing knobs.
	MaxJobsPerBatch    int           `env:"MAX_JOBS_PER_BATCH" default:"10"`
	JobTimeoutSeconds  int           `env:"JOB_TIMEOUT_SECONDS" default:"300"`
	BackoffBaseSeconds int           `env:"BACKOFF_BASE_SECONDS" default:"60"`
	WebhookMaxAttempts int           `env:"WEBHOOK_MAX_ATTEMPTS" default:"5"`
	PollInterval       time.Duration `env:"WORKER_POLL_INTERVAL" default:"5s"`

	// Zombie-scan knobs.
	ZombiePluginTimeoutSeconds int `env:"ZOMBIE_PLUGIN_TIMEOUT_SECONDS" default:"30"`
	ZombieScanConcurrency      int `env:"ZOMBIE_SCAN_CONCURRENCY" default:"10"`

	// SchedulerEnabled disables the in-process cohort scheduler, e.g. for
	// worker replicas that should only drain the queue.
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" default:"true"`
}

// LoadWorkerConfig loads and validates worker configuration from environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that the env loader cannot express.
func (c *WorkerConfig) Validate() error {
	if err := c.Database.ValidateForEnvironment(c.Environment); err != nil {
		return err
	}
	if c.MaxJobsPerBatch < 1 || c.MaxJobsPerBatch > MaxJobsPerBatch {
		return fmt.Errorf("MAX_JOBS_PER_BATCH must be between 1 and %d, got %d", MaxJobsPerBatch, c.MaxJobsPerBatch)
	}
	if c.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECONDS must be positive, got %d", c.JobTimeoutSeconds)
	}
	if c.BackoffBaseSeconds <= 0 {
		return fmt.Errorf("BACKOFF_BASE_SECONDS must be positive, got %d", c.BackoffBaseSeconds)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1, got %d", c.WebhookMaxAttempts)
	}
	if c.ZombiePluginTimeoutSeconds <= 0 {
		return fmt.Errorf("ZOMBIE_PLUGIN_TIMEOUT_SECONDS must be positive, got %d", c.ZombiePluginTimeoutSeconds)
	}
	if c.ZombieScanConcurrency < 1 {
		return fmt.Errorf("ZOMBIE_SCAN_CONCURRENCY must be at least 1, got %d", c.ZombieScanConcurrency)
	}
	return nil
}

// JobTimeout returns the per-job handler timeout as a duration.
func (c *WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// BackoffBase returns the retry backoff base as a duration.
func (c *WorkerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// ZombiePluginTimeout returns the per-plugin scan deadline as a duration.
func (c *WorkerConfig) ZombiePluginTimeout() time.Duration {
	return time.Duration(c.ZombiePluginTimeoutSeconds) * time.Second
}
