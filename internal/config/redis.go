package config

// RedisConfig holds the optional shared-store configuration. When URL is
// empty, rate limits and caches fall back to per-process memory.
type RedisConfig struct {
	// URL is a redis connection string, e.g. redis://:password@host:6379/0.
	URL string `env:"REDIS_URL"`
}

// Enabled reports whether a shared Redis store is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}
