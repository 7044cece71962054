package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig resolves the full configuration from the process environment.
//
// For local development a .env file (if present) is merged in first without
// overriding variables already set in the environment. The populated struct
// is then validated; any violation aborts startup with a descriptive error.
func LoadConfig() (*Config, error) {
	// Best-effort dotenv load. Missing file is not an error: production
	// deployments configure through the environment only.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env file: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig applies the struct-level validation rules declared via
// `validate` tags. Errors are wrapped with the offending field path so that
// a misconfigured deployment fails with an actionable message.
func validateConfig(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: field %s failed rule %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
