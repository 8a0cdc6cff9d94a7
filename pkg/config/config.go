// Package config loads server configuration. Values come from an optional
// YAML file merged with environment variables; environment always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds everything the server binary needs at startup.
type Config struct {
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	DatabaseURL    string `koanf:"database_url"`
	DatabaseDriver string `koanf:"database_driver"` // postgres or sqlite

	JWTSecret string `koanf:"jwt_secret"`

	LogLevel string `koanf:"log_level"`

	RateLimitRPS   int `koanf:"rate_limit_rps"`
	RateLimitBurst int `koanf:"rate_limit_burst"`

	ComplianceProfilePath string `koanf:"compliance_profile_path"`

	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidInteger     = errors.New("numeric settings must be valid integers")
	ErrUnknownDriver      = errors.New("LEDGER_DB_DRIVER must be postgres or sqlite")
)

// Defaults for non-secret configuration.
const (
	DefaultPort           = 8080
	DefaultEnv            = "development"
	DefaultDriver         = "postgres"
	DefaultLogLevel       = "info"
	DefaultRateLimitRPS   = 50
	DefaultRateLimitBurst = 100
)

// Load reads configuration from an optional YAML file plus environment
// variables. It returns the config and any validation errors; the caller
// refuses to start on a non-empty error list.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := envInt("LEDGER_PORT", k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rps, err := envInt("LEDGER_RATE_LIMIT_RPS", k.Int("rate_limit_rps"), DefaultRateLimitRPS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	burst, err := envInt("LEDGER_RATE_LIMIT_BURST", k.Int("rate_limit_burst"), DefaultRateLimitBurst)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:                  port,
		Env:                   envOr("LEDGER_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:           envOr("DATABASE_URL", k.String("database_url"), ""),
		DatabaseDriver:        envOr("LEDGER_DB_DRIVER", k.String("database_driver"), DefaultDriver),
		JWTSecret:             envOr("JWT_SECRET", k.String("jwt_secret"), ""),
		LogLevel:              envOr("LEDGER_LOG_LEVEL", k.String("log_level"), DefaultLogLevel),
		RateLimitRPS:          rps,
		RateLimitBurst:        burst,
		ComplianceProfilePath: envOr("LEDGER_COMPLIANCE_PROFILE", k.String("compliance_profile_path"), ""),
		OTLPEndpoint:          envOr("OTEL_EXPORTER_OTLP_ENDPOINT", k.String("otlp_endpoint"), ""),
	}

	return cfg, append(loadErrs, cfg.Validate()...)
}

// Validate collects every configuration problem rather than stopping at the
// first, so an operator fixes one restart's worth of mistakes at once.
func (c *Config) Validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		errs = append(errs, ErrUnknownDriver)
	}
	return errs
}

// IsProduction reports whether the server runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func envOr(envKey, koanfVal, defaultVal string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

func envInt(envKey string, koanfVal, defaultVal int) (int, error) {
	if v := os.Getenv(envKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return defaultVal, fmt.Errorf("%w: %s=%q", ErrInvalidInteger, envKey, v)
		}
		return n, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}
