package config

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the storefront API service.
type Config struct {
	Addr            string        `env:"ADDR,default=:8080"`
	DBDSN           string        `env:"DB_DSN,required"`
	NATSURL         string        `env:"NATS_URL"`
	LinkBaseURL     string        `env:"LINK_BASE_URL,required"`
	DefaultTokenTTL string        `env:"DEFAULT_TOKEN_TTL,default=1h"`
	PayloadSealKey  string        `env:"PAYLOAD_SEAL_KEY"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS,default=*"`
	RequestsPerMin  int           `env:"REQUESTS_PER_MINUTE,default=300"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL,default=1h"`
}

// Load returns a Config populated from environment variables. An empty
// DB_DSN counts as missing; envconfig's required tag only catches unset
// variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.DBDSN == "" {
		return Config{}, errors.New("DB_DSN is required")
	}
	if cfg.LinkBaseURL == "" {
		return Config{}, errors.New("LINK_BASE_URL is required")
	}
	return cfg, nil
}
