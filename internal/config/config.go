// Package config defines the global configuration structure for the Zecu API.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating code
// from configuration.
//
// Values are resolved from the OS environment, with an optional dotenv file
// for local development. Any missing required value or invalid format causes
// the application to fail immediately on startup (fail fast).
package config

import (
	"time"

	"zecu/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Zecu API.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	MercadoPago MercadoPagoConfig
	Polar       PolarConfig
	N8N         N8NConfig
	Security    SecurityConfig
}

// IsDevelopment reports whether technical error detail may be attached to
// API responses. Production responses are always redacted.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "local" || c.Environment == "dev"
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public base URL for payment redirects (no trailing slash).
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AuthConfig holds the session token secret and OTP parameters.
type AuthConfig struct {
	JWTSecret     SecretString  `envconfig:"JWT_SECRET" validate:"required,min=32"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"168h"` // 7 days
	OTPTTL        time.Duration `envconfig:"OTP_TTL" default:"5m"`
	SecureCookies bool          `envconfig:"SECURE_COOKIES" default:"true"`
}

// MercadoPagoConfig holds Mercado Pago API credentials and timeouts.
type MercadoPagoConfig struct {
	AccessToken SecretString  `envconfig:"MERCADOPAGO_ACCESS_TOKEN" validate:"required"`
	BaseURL     string        `envconfig:"MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
	Timeout     time.Duration `envconfig:"MERCADOPAGO_TIMEOUT" default:"5s"`
}

// PolarConfig holds Polar.sh API credentials and webhook verification secret.
type PolarConfig struct {
	AccessToken   SecretString `envconfig:"POLAR_ACCESS_TOKEN" validate:"required"`
	WebhookSecret SecretString `envconfig:"POLAR_WEBHOOK_SECRET" validate:"required"`
	BaseURL       string       `envconfig:"POLAR_BASE_URL" default:"https://api.polar.sh"`
	PlusProductID string       `envconfig:"POLAR_PLUS_PRODUCT_ID" validate:"required"`
	SuccessURL    string       `envconfig:"POLAR_SUCCESS_URL"`
}

// N8NConfig holds settings for the outbound automation webhook that delivers
// OTP codes over WhatsApp.
type N8NConfig struct {
	SendOTPURL string        `envconfig:"N8N_WEBHOOK_SEND_OTP_URL" validate:"required,url"`
	Timeout    time.Duration `envconfig:"N8N_TIMEOUT" default:"10s"`
	UserAgent  string        `envconfig:"N8N_USER_AGENT" default:"Zecu-Webhook/1.0"`
}

// SecurityConfig holds CORS settings and the internal API key that guards the
// consulta endpoints consumed by the WhatsApp bot.
type SecurityConfig struct {
	InternalAPIKey     SecretString `envconfig:"INTERNAL_API_KEY" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}
