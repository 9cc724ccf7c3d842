// Package config loads process configuration from the environment.
// Command-line flags override the loaded values in cmd/stepwise.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Config is the process configuration of the stepwise server.
type Config struct {
	Addr     string `env:"STEPWISE_ADDR"      envDefault:":8080"`
	LogLevel string `env:"STEPWISE_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"STEPWISE_LOG_JSON"  envDefault:"false"`

	StoreDriver string `env:"STEPWISE_STORE" envDefault:"memory"`
	RedisURL    string `env:"STEPWISE_REDIS_URL"   envDefault:"redis://localhost:6379/0"`
	RedisPrefix string `env:"STEPWISE_REDIS_PREFIX" envDefault:"stepwise:"`
	SQLitePath  string `env:"STEPWISE_SQLITE_PATH" envDefault:"stepwise.db"`
	DynamoTable string `env:"STEPWISE_DYNAMO_TABLE" envDefault:"stepwise-progress"`
	AWSRegion   string `env:"AWS_REGION"`

	CatalogPath string `env:"STEPWISE_CATALOG"`

	CacheTTL      time.Duration `env:"STEPWISE_CACHE_TTL"      envDefault:"5m"`
	MetadataTTL   time.Duration `env:"STEPWISE_METADATA_TTL"   envDefault:"1h"`
	SweepInterval time.Duration `env:"STEPWISE_SWEEP_INTERVAL" envDefault:"1m"`
	TurnTimeout   time.Duration `env:"STEPWISE_TURN_TIMEOUT"   envDefault:"10s"`
	CallTimeout   time.Duration `env:"STEPWISE_CALL_TIMEOUT"   envDefault:"3s"`

	ChannelURL   string `env:"STEPWISE_CHANNEL_URL"`
	ChannelToken string `env:"STEPWISE_CHANNEL_TOKEN"`

	// ChannelTokenParam names an SSM parameter holding the channel token.
	// Used when ChannelToken is empty.
	ChannelTokenParam string `env:"STEPWISE_CHANNEL_TOKEN_PARAM"`

	// WebhookSecret, when set, signs webhook bodies (HMAC-SHA256 in X-Hub-Signature-256).
	WebhookSecret string `env:"STEPWISE_WEBHOOK_SECRET"`
	VerifyToken   string `env:"STEPWISE_VERIFY_TOKEN"`
	AdminToken    string `env:"STEPWISE_ADMIN_TOKEN"`
	MaxInputSize  int    `env:"STEPWISE_MAX_INPUT_SIZE" envDefault:"4096"`

	// EncryptionKey is a base64 AES-256 key (or an ssm: reference) that
	// encrypts answers at rest. Old keys stay readable as fallbacks.
	EncryptionKey          string   `env:"STEPWISE_ENCRYPTION_KEY"`
	EncryptionFallbackKeys []string `env:"STEPWISE_ENCRYPTION_FALLBACK_KEYS" envSeparator:","`

	// RedactPatterns are regular expressions masked out of answers before storage.
	RedactPatterns []string `env:"STEPWISE_REDACT_PATTERNS" envSeparator:";"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the store driver.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverRedis, DriverSQLite, DriverDynamoDB:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache ttl must be positive")
	}
	if c.MetadataTTL < c.CacheTTL {
		return fmt.Errorf("config: metadata ttl (%s) must not be shorter than cache ttl (%s)", c.MetadataTTL, c.CacheTTL)
	}
	if c.TurnTimeout <= 0 || c.CallTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.MaxInputSize <= 0 {
		return fmt.Errorf("config: max input size must be positive")
	}
	if c.CallTimeout > c.TurnTimeout {
		return fmt.Errorf("config: call timeout (%s) exceeds turn timeout (%s)", c.CallTimeout, c.TurnTimeout)
	}
	return nil
}
