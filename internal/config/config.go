// Package config defines the global configuration structure for the Minha
// Floresta reconciliation service. Configuration is loaded once at process
// initialization and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain: OS environment (highest) then a
// local dotenv file. Any missing required value or invalid format fails the
// process immediately on startup (fail fast).
package config

import (
	"time"

	"minhafloresta/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the service. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Payments PaymentsConfig
	Storage  StorageConfig
	AWS      AWSConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Base URL printed on certificates for public verification (no trailing slash).
	VerifyBaseURL string `envconfig:"PUBLIC_VERIFY_URL" default:"https://minhafloresta.org/verificar"`
	CorsOrigins   []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// PaymentsConfig holds the payment provider credentials and webhook secret.
type PaymentsConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// StorageConfig holds object storage settings for certificate artifacts.
type StorageConfig struct {
	CertificateBucket string        `envconfig:"CERTIFICATE_BUCKET" default:"certificados"`
	UploadTimeout     time.Duration `envconfig:"STORAGE_UPLOAD_TIMEOUT" default:"15s"`
	// PublicBaseURL overrides the derived https://<bucket>.s3.<region>... URL,
	// for CDN-fronted buckets. Empty means derive from bucket and region.
	PublicBaseURL string `envconfig:"STORAGE_PUBLIC_BASE_URL"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"MinhaFloresta"`
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}
