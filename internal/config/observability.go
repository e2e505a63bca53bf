package config

// ObservabilityConfig holds observability configuration. Exporter endpoint and
// headers come from the standard OTEL_* environment variables.
type ObservabilityConfig struct {
	OTelEnabled bool `env:"OTEL_ENABLED" default:"true"`
}
