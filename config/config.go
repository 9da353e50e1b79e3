package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string `env:"PORT" env-default:"8090"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	EventID     string `env:"EVENT_ID" env-default:"default"`

	// Storage: "redis" or "memory"
	StoreDriver string        `env:"STORE_DRIVER" env-default:"redis"`
	RedisURL    string        `env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	LockTTL     time.Duration `env:"SETTLEMENT_LOCK_TTL" env-default:"30s"`

	PubNub  PubNub
	Gateway Gateway

	// Reconciliation
	SyncInterval    time.Duration `env:"SYNC_INTERVAL" env-default:"1m"`
	SyncConcurrency int           `env:"SYNC_CONCURRENCY" env-default:"4"`

	// Admin
	AdminOverridePINHash string `env:"ADMIN_OVERRIDE_PIN_HASH"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" env-default:"30"`

	// Monitoring
	EnableMetrics bool   `env:"ENABLE_METRICS" env-default:"true"`
	MetricsPort   string `env:"METRICS_PORT" env-default:"9090"`
}

type PubNub struct {
	PublishKey          string `env:"PUBNUB_PUBLISH_KEY"`
	SubscribeKey        string `env:"PUBNUB_SUBSCRIBE_KEY"`
	SecretKey           string `env:"PUBNUB_SECRET_KEY"`
	CipherKey           string `env:"PUBNUB_CIPHER_KEY"`
	UserID              string `env:"PUBNUB_USER_ID" env-default:"ticket-reconciler"`
	WebhookChannel      string `env:"PUBNUB_WEBHOOK_CHANNEL" env-default:"gateway-callbacks"`
	TicketChannelPrefix string `env:"PUBNUB_TICKET_CHANNEL_PREFIX" env-default:"tickets-"`
}

// Enabled reports whether enough keys are set to talk to PubNub.
func (p PubNub) Enabled() bool {
	return p.SubscribeKey != ""
}

type Gateway struct {
	// Driver is "http" for the real provider or "sandbox" for local runs.
	Driver        string        `env:"GATEWAY_DRIVER" env-default:"sandbox"`
	BaseURL       string        `env:"GATEWAY_BASE_URL"`
	AppKey        string        `env:"GATEWAY_APP_KEY"`
	Secret        string        `env:"GATEWAY_SECRET"`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" env-default:"15s"`
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	return Load(".env")
}

func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "redis", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be redis or memory, got %q", c.StoreDriver)
	}
	switch c.Gateway.Driver {
	case "sandbox":
		if !c.IsDevelopment() {
			return fmt.Errorf("GATEWAY_DRIVER=sandbox is only allowed in development, ENVIRONMENT is %q", c.Environment)
		}
	case "http":
		if c.Gateway.BaseURL == "" || c.Gateway.Secret == "" {
			return errors.New("GATEWAY_BASE_URL and GATEWAY_SECRET are required for the http gateway")
		}
		if c.Gateway.WebhookSecret == "" {
			return errors.New("WEBHOOK_SECRET is required for the http gateway")
		}
	default:
		return fmt.Errorf("GATEWAY_DRIVER must be http or sandbox, got %q", c.Gateway.Driver)
	}
	if c.SyncConcurrency < 1 {
		return errors.New("SYNC_CONCURRENCY must be at least 1")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
