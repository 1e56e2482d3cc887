package otelsink

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config configures the tracer provider returned by [Setup].
type Config struct {
	// Enabled may be set to false to disable exporting, regardless of
	// Endpoint.
	Enabled bool `env:"ERRORTELEMETRY_OTEL_ENABLED" envDefault:"true"`
	// Endpoint is the OTLP/HTTP endpoint URL. Exporting is disabled if empty.
	Endpoint string `env:"ERRORTELEMETRY_OTEL_ENDPOINT"`
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string `env:"ERRORTELEMETRY_SERVICE_NAME" envDefault:"errortelemetry"`
}

// ConfigFromEnv loads Config from environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
