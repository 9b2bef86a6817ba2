package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the errorhub server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Aggregator AggregatorConfig
	Assignment AssignmentConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port               int    `env:"ERRORHUB_PORT"         envDefault:"8080"`
	Env                string `env:"ERRORHUB_ENV"          envDefault:"development"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	URL            string        `env:"REDIS_URL"`
	AccessCacheTTL time.Duration `env:"ACCESS_CACHE_TTL" envDefault:"5m"`
}

type AuthConfig struct {
	// AdminEmails lists the users allowed to use the admin-scoped routes.
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`
	// FailuresPerMinute caps failed logins per client IP before further
	// attempts are refused without a password check.
	FailuresPerMinute int `env:"AUTH_FAILURES_PER_MINUTE" envDefault:"10"`
}

type AggregatorConfig struct {
	MaxRetries int `env:"AGGREGATOR_MAX_RETRIES" envDefault:"3"`
}

type AssignmentConfig struct {
	// AutoClearOnRevoke clears an exception's assignee when the assignee is
	// removed from the exception's project.
	AutoClearOnRevoke bool `env:"AUTO_CLEAR_ASSIGNEE_ON_REVOKE" envDefault:"true"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"errorhub"`
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Auth.AdminEmails = normalizeEmails(cfg.Auth.AdminEmails)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("ERRORHUB_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Auth.FailuresPerMinute < 1 {
		return fmt.Errorf("AUTH_FAILURES_PER_MINUTE must be at least 1, got %d", c.Auth.FailuresPerMinute)
	}
	if c.Aggregator.MaxRetries < 1 {
		return fmt.Errorf("AGGREGATOR_MAX_RETRIES must be at least 1, got %d", c.Aggregator.MaxRetries)
	}
	if c.Telemetry.OTLPEndpoint != "" &&
		!strings.HasPrefix(c.Telemetry.OTLPEndpoint, "http://") && !strings.HasPrefix(c.Telemetry.OTLPEndpoint, "https://") {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT must start with http:// or https://, got %q", c.Telemetry.OTLPEndpoint)
	}
	return nil
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
