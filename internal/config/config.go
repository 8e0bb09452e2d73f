package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all service configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Target application (scopes the NATS subject)
	AppName string `env:"FLY_APP_NAME,required,notEmpty"`
	OrgSlug string `env:"FLY_ORG_SLUG,required,notEmpty"`

	// Message bus
	NATSURL   string `env:"NATS_URL" envDefault:"nats://[fdaa::3]:4223"`
	NATSToken string `env:"FLY_NATS_TOKEN,required,notEmpty"`

	// HTTP
	Port      int    `env:"PORT" envDefault:"8080"`
	AuthToken string `env:"AUTH_TOKEN"`

	// Log buffer bounds
	BufferMaxEntries    int `env:"LOG_BUFFER_MAX_ENTRIES" envDefault:"10000"`
	BufferMaxAgeMinutes int `env:"LOG_BUFFER_MAX_AGE_MINUTES" envDefault:"30"`

	// Chat agent
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel        string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	ChatTimeoutSeconds int    `env:"CHAT_TIMEOUT_SECONDS" envDefault:"60"`
	ChatMaxRounds      int    `env:"CHAT_MAX_ROUNDS" envDefault:"5"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and environment
// variables. Priority: ENV vars > .env file > defaults.
func Load() (*Config, error) {
	// .env is a development convenience; in production the platform
	// injects environment variables directly.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.BufferMaxEntries < 1 {
		return fmt.Errorf("LOG_BUFFER_MAX_ENTRIES must be > 0, got %d", c.BufferMaxEntries)
	}
	if c.BufferMaxAgeMinutes < 1 {
		return fmt.Errorf("LOG_BUFFER_MAX_AGE_MINUTES must be > 0, got %d", c.BufferMaxAgeMinutes)
	}
	if c.ChatMaxRounds < 1 {
		return fmt.Errorf("CHAT_MAX_ROUNDS must be > 0, got %d", c.ChatMaxRounds)
	}
	if c.ChatTimeoutSeconds < 1 {
		return fmt.Errorf("CHAT_TIMEOUT_SECONDS must be > 0, got %d", c.ChatTimeoutSeconds)
	}
	return nil
}

// ChatTimeout returns the per-request agent deadline.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.ChatTimeoutSeconds) * time.Second
}

// BufferMaxAge returns the buffer age bound as a duration.
func (c *Config) BufferMaxAge() time.Duration {
	return time.Duration(c.BufferMaxAgeMinutes) * time.Minute
}

// Subject returns the NATS subject for the target application's logs.
func (c *Config) Subject() string {
	return fmt.Sprintf("logs.%s.%s", c.OrgSlug, c.AppName)
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
