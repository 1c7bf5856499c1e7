// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
)

// envPrefix scopes the gateway's environment variables. Nesting uses a
// double underscore so multi-word leaf keys survive the mapping:
// WORKLINK_GATEWAY__HTTP_PORT -> gateway.http_port.
const envPrefix = "WORKLINK_"

// Config holds all gateway configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Gateway surface
	Gateway   GatewayConfig   `koanf:"gateway"`
	Admission AdmissionConfig `koanf:"admission"`
	Auth      AuthConfig      `koanf:"auth"`

	// External collaborators
	Responder    ResponderConfig    `koanf:"responder"`
	Sender       SenderConfig       `koanf:"sender"`
	Actions      ActionsConfig      `koanf:"actions"`
	Notification NotificationConfig `koanf:"notification"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// GatewayConfig holds the HTTP/WebSocket listener configuration.
type GatewayConfig struct {
	HTTPPort int `koanf:"http_port"`

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty allows any origin (local development only).
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AdmissionConfig holds rate-limit window configuration.
// Backend selects the counter store: "memory" (single instance) or "redis".
type AdmissionConfig struct {
	Backend          string        `koanf:"backend"`
	ConnectionLimit  int           `koanf:"connection_limit"`
	ConnectionWindow time.Duration `koanf:"connection_window"`
	MessageLimit     int           `koanf:"message_limit"`
	MessageWindow    time.Duration `koanf:"message_window"`
}

// AuthConfig holds JWT validation configuration. The platform mints tokens;
// the gateway only verifies them against the published public keys.
type AuthConfig struct {
	Issuer   string `koanf:"issuer"`
	Audience string `koanf:"audience"`

	// KeyID names the signing key used when minting locally (cmd/sign).
	KeyID string `koanf:"key_id"`

	// KeyFile is a PEM private key file for local development. The gateway
	// and cmd/sign read the same file so locally minted tokens verify.
	// Empty generates an ephemeral key pair at startup.
	KeyFile string `koanf:"key_file"`

	// PublicKeySSMPrefix is the SSM parameter path holding PEM public keys,
	// one parameter per key ID. Empty in local (ephemeral keypair).
	PublicKeySSMPrefix string `koanf:"public_key_ssm_prefix"`

	// SigningKeySecretID is the Secrets Manager entry holding the private
	// key for local minting tools. The gateway itself never signs.
	SigningKeySecretID string `koanf:"signing_key_secret_id"`
}

// ResponderConfig holds the automated-responder collaborator endpoint.
// Empty BaseURL selects the built-in canned responder (local development).
type ResponderConfig struct {
	BaseURL        string        `koanf:"base_url"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
}

// SenderConfig holds the outbound-delivery collaborator endpoint.
// Empty BaseURL selects the logging sender (local development).
type SenderConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// ActionsConfig holds the business-action handler endpoint.
type ActionsConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// NotificationConfig holds the offline-notification queue configuration.
type NotificationConfig struct {
	TopicARN string `koanf:"topic_arn"` // Empty selects the logging notifier
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint      string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout       time.Duration `koanf:"timeout"`
	MessagesTable string        `koanf:"messages_table"`
	WorkersTable  string        `koanf:"workers_table"`
}

// RedisConfig holds Redis configuration for the shared admission counters.
type RedisConfig struct {
	Addr     string              `koanf:"addr"`
	Password domain.SecretString `koanf:"password"`
	DB       int                 `koanf:"db"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string `koanf:"service_name"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		Gateway: GatewayConfig{
			HTTPPort: 8080,
		},
		Admission: AdmissionConfig{
			Backend:          "memory",
			ConnectionLimit:  domain.ConnectionRateLimit,
			ConnectionWindow: domain.ConnectionRateWindow,
			MessageLimit:     domain.MessageRateLimit,
			MessageWindow:    domain.MessageRateWindow,
		},
		Auth: AuthConfig{
			Issuer:   "worklink-platform",
			Audience: "worklink-gateway",
			KeyID:    "local-dev",
		},

		Responder: ResponderConfig{
			AttemptTimeout: domain.ResponderAttemptTimeout,
			MaxAttempts:    domain.ResponderMaxAttempts,
		},
		Sender: SenderConfig{
			Timeout: domain.HTTPCallTimeout,
		},
		Actions: ActionsConfig{
			Timeout: domain.HTTPCallTimeout,
		},

		DynamoDB: DynamoDBConfig{
			Timeout:       domain.DynamoDBTimeout,
			MessagesTable: "worklink-messages",
			WorkersTable:  "worklink-workers",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "ap-southeast-1",
		},
		OTEL: OTELConfig{
			ServiceName: "worklink-gateway",
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing in non-local environments cause startup failure.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	// Start with compiled defaults
	cfg := defaults()

	// Load environment variables under the WORKLINK_ prefix.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	switch cfg.Admission.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: admission.backend must be memory or redis, got %q",
			domain.ErrInvalidInput, cfg.Admission.Backend)
	}

	if cfg.Admission.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
	}

	// In local environment, the remaining fields have sensible defaults
	// or log-only stand-ins.
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Auth.PublicKeySSMPrefix == "" {
		return fmt.Errorf("%w: auth.public_key_ssm_prefix", domain.ErrConfigRequired)
	}
	if cfg.Responder.BaseURL == "" {
		return fmt.Errorf("%w: responder.base_url", domain.ErrConfigRequired)
	}
	if cfg.Sender.BaseURL == "" {
		return fmt.Errorf("%w: sender.base_url", domain.ErrConfigRequired)
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
